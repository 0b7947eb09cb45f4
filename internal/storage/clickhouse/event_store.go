package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	id, kind, sequence, height, from_addr, to_addr,
	amount, expiration_height, timestamp_ms
`

// InsertBulk adds multiple events. Fails entire batch on duplicate id.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{})
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.ID] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, e := range events {
		exists, err := s.exists(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO ledger_events (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.ID, string(e.Kind), e.Sequence, e.Height,
			addrColumn(e.From), addrColumn(e.To),
			e.Amount.String(), e.ExpirationHeight, uint64(e.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive), ordered by sequence ASC.
func (s *EventStore) GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE sequence >= ? AND sequence <= ?
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query by sequence range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByAddress retrieves events whose from or to equals addr, ordered by sequence ASC.
func (s *EventStore) GetByAddress(ctx context.Context, addr domain.Address) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE from_addr = ? OR to_addr = ?
		ORDER BY sequence ASC
	`

	a := addr.String()
	rows, err := s.conn.Query(ctx, query, a, a)
	if err != nil {
		return nil, fmt.Errorf("query by address: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastSequence returns the highest stored sequence, 0 if empty.
func (s *EventStore) LastSequence(ctx context.Context) (uint64, error) {
	var last uint64
	if err := s.conn.QueryRow(ctx, `SELECT max(sequence) FROM ledger_events`).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return last, nil
}

// exists checks if an event with the given id exists.
func (s *EventStore) exists(ctx context.Context, id string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM ledger_events WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanEvents(rows driver.Rows) ([]*domain.Event, error) {
	var result []*domain.Event
	for rows.Next() {
		var (
			e                domain.Event
			kind             string
			fromAddr, toAddr string
			amount           string
			timestampMs      uint64
		)
		err := rows.Scan(
			&e.ID, &kind, &e.Sequence, &e.Height,
			&fromAddr, &toAddr,
			&amount, &e.ExpirationHeight, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Timestamp = int64(timestampMs)
		if e.From, err = parseAddrColumn(fromAddr); err != nil {
			return nil, err
		}
		if e.To, err = parseAddrColumn(toAddr); err != nil {
			return nil, err
		}
		if e.Amount, err = domain.ParseAmount(amount); err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", amount, err)
		}

		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// addrColumn encodes a nullable address as a String column, empty for nil.
func addrColumn(a *domain.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func parseAddrColumn(s string) (*domain.Address, error) {
	if s == "" {
		return nil, nil
	}
	a, err := domain.ParseAddress(s)
	if err != nil {
		return nil, fmt.Errorf("stored address %q: %w", s, err)
	}
	return &a, nil
}
