package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Update runs at SERIALIZABLE isolation; View runs in a read-only
// REPEATABLE READ snapshot.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// View runs fn against a read-only snapshot.
func (s *LedgerStore) View(ctx context.Context, fn func(r storage.LedgerReader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return fn(&ledgerTx{tx: tx})
}

// maxTxAttempts bounds retries of transactions that lose a serialization conflict.
const maxTxAttempts = 3

// retryable reports whether a transaction failed with serialization_failure
// or deadlock_detected and can be run again from the start.
func retryable(err error) bool {
	switch sqlState(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

// Update runs fn in a serializable transaction, committing only if fn succeeds.
// fn is re-run from scratch when the transaction loses a serialization
// conflict with another writer.
func (s *LedgerStore) Update(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.update(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxTxAttempts, err)
}

func (s *LedgerStore) update(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ledgerTx implements storage.LedgerTx over a pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

func (t *ledgerTx) Metadata(ctx context.Context) (*domain.Metadata, error) {
	query := `
		SELECT decimals, name, symbol, created_at
		FROM token_metadata
		WHERE id = 1
	`

	var m domain.Metadata
	var decimals int32
	err := t.tx.QueryRow(ctx, query).Scan(&decimals, &m.Name, &m.Symbol, &m.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata: %w", err)
	}
	m.Decimals = uint32(decimals)
	return &m, nil
}

func (t *ledgerTx) Balance(ctx context.Context, holder domain.Address) (domain.Amount, error) {
	query := `SELECT amount::text FROM balances WHERE holder = $1`

	var text string
	err := t.tx.QueryRow(ctx, query, holder.String()).Scan(&text)
	if err != nil {
		if isNotFoundError(err) {
			return domain.Amount{}, nil
		}
		return domain.Amount{}, fmt.Errorf("get balance: %w", err)
	}
	return parseStoredAmount(text)
}

func (t *ledgerTx) Balances(ctx context.Context) (map[domain.Address]domain.Amount, error) {
	query := `SELECT holder, amount::text FROM balances`

	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.Address]domain.Amount)
	for rows.Next() {
		var holderText, amountText string
		if err := rows.Scan(&holderText, &amountText); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		holder, err := domain.ParseAddress(holderText)
		if err != nil {
			return nil, fmt.Errorf("stored holder %q: %w", holderText, err)
		}
		amount, err := parseStoredAmount(amountText)
		if err != nil {
			return nil, err
		}
		result[holder] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return result, nil
}

func (t *ledgerTx) TotalSupply(ctx context.Context) (domain.Amount, error) {
	var text string
	err := t.tx.QueryRow(ctx, `SELECT total_supply::text FROM ledger_state WHERE id = 1`).Scan(&text)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("get total supply: %w", err)
	}
	return parseStoredAmount(text)
}

func (t *ledgerTx) Allowance(ctx context.Context, owner, spender domain.Address) (*domain.Allowance, error) {
	query := `
		SELECT amount::text, expiration_height
		FROM allowances
		WHERE owner = $1 AND spender = $2
	`

	var text string
	var expiration int64
	err := t.tx.QueryRow(ctx, query, owner.String(), spender.String()).Scan(&text, &expiration)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get allowance: %w", err)
	}

	amount, err := parseStoredAmount(text)
	if err != nil {
		return nil, err
	}
	return &domain.Allowance{Amount: amount, ExpirationHeight: uint32(expiration)}, nil
}

func (t *ledgerTx) Owner(ctx context.Context) (*domain.Address, error) {
	var owner *string
	err := t.tx.QueryRow(ctx, `SELECT owner FROM ledger_state WHERE id = 1`).Scan(&owner)
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	if owner == nil {
		return nil, nil
	}
	addr, err := domain.ParseAddress(*owner)
	if err != nil {
		return nil, fmt.Errorf("stored owner %q: %w", *owner, err)
	}
	return &addr, nil
}

func (t *ledgerTx) Paused(ctx context.Context) (bool, error) {
	var paused bool
	if err := t.tx.QueryRow(ctx, `SELECT paused FROM ledger_state WHERE id = 1`).Scan(&paused); err != nil {
		return false, fmt.Errorf("get paused: %w", err)
	}
	return paused, nil
}

func (t *ledgerTx) EventSequence(ctx context.Context) (uint64, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT event_seq FROM ledger_state WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get event sequence: %w", err)
	}
	return uint64(seq), nil
}

func (t *ledgerTx) PutMetadata(ctx context.Context, m *domain.Metadata) error {
	if m == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_metadata (id, decimals, name, symbol, created_at)
		VALUES (1, $1, $2, $3, $4)
	`

	_, err := t.tx.Exec(ctx, query, int32(m.Decimals), m.Name, m.Symbol, m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token metadata: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutBalance(ctx context.Context, holder domain.Address, amount domain.Amount) error {
	if amount.IsZero() {
		if _, err := t.tx.Exec(ctx, `DELETE FROM balances WHERE holder = $1`, holder.String()); err != nil {
			return fmt.Errorf("delete balance: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO balances (holder, amount) VALUES ($1, $2::numeric)
		ON CONFLICT (holder) DO UPDATE SET amount = EXCLUDED.amount
	`
	if _, err := t.tx.Exec(ctx, query, holder.String(), amount.String()); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutTotalSupply(ctx context.Context, amount domain.Amount) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET total_supply = $1::numeric WHERE id = 1`, amount.String()); err != nil {
		return fmt.Errorf("update total supply: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutAllowance(ctx context.Context, owner, spender domain.Address, a domain.Allowance) error {
	query := `
		INSERT INTO allowances (owner, spender, amount, expiration_height)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (owner, spender) DO UPDATE
		SET amount = EXCLUDED.amount, expiration_height = EXCLUDED.expiration_height
	`
	_, err := t.tx.Exec(ctx, query, owner.String(), spender.String(), a.Amount.String(), int64(a.ExpirationHeight))
	if err != nil {
		return fmt.Errorf("upsert allowance: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutOwner(ctx context.Context, owner *domain.Address) error {
	var value *string
	if owner != nil {
		s := owner.String()
		value = &s
	}
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET owner = $1 WHERE id = 1`, value); err != nil {
		return fmt.Errorf("update owner: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutPaused(ctx context.Context, paused bool) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET paused = $1 WHERE id = 1`, paused); err != nil {
		return fmt.Errorf("update paused: %w", err)
	}
	return nil
}

func (t *ledgerTx) PutEventSequence(ctx context.Context, seq uint64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET event_seq = $1 WHERE id = 1`, int64(seq)); err != nil {
		return fmt.Errorf("update event sequence: %w", err)
	}
	return nil
}

// ConsumeNonce inserts (signer, nonce). The nonce is stored as its int64 bit
// pattern so the full uint64 range fits a BIGINT key.
func (t *ledgerTx) ConsumeNonce(ctx context.Context, signer domain.Address, nonce uint64) error {
	query := `INSERT INTO auth_nonces (signer, nonce) VALUES ($1, $2)`
	if _, err := t.tx.Exec(ctx, query, signer.String(), int64(nonce)); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("consume nonce: %w", err)
	}
	return nil
}

// parseStoredAmount converts a NUMERIC text value read from the database.
func parseStoredAmount(text string) (domain.Amount, error) {
	amount, err := domain.ParseAmount(text)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("stored amount %q: %w", text, err)
	}
	return amount, nil
}
