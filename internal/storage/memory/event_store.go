package memory

import (
	"context"
	"sort"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data []*domain.Event
	ids  map[string]bool
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make([]*domain.Event, 0),
		ids:  make(map[string]bool),
	}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate id.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchIDs := make(map[string]bool)
	for _, e := range events {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if s.ids[e.ID] || batchIDs[e.ID] {
			return storage.ErrDuplicateKey
		}
		batchIDs[e.ID] = true
	}

	for _, e := range events {
		s.data = append(s.data, copyEvent(e))
		s.ids[e.ID] = true
	}

	return nil
}

// GetBySequenceRange retrieves events with sequence in [from, to], ordered by sequence ASC.
func (s *EventStore) GetBySequenceRange(_ context.Context, from, to uint64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if e.Sequence >= from && e.Sequence <= to {
			result = append(result, copyEvent(e))
		}
	}

	sortEvents(result)
	return result, nil
}

// GetByAddress retrieves events whose from or to equals addr, ordered by sequence ASC.
func (s *EventStore) GetByAddress(_ context.Context, addr domain.Address) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if (e.From != nil && *e.From == addr) || (e.To != nil && *e.To == addr) {
			result = append(result, copyEvent(e))
		}
	}

	sortEvents(result)
	return result, nil
}

// LastSequence returns the highest stored sequence, 0 if empty.
func (s *EventStore) LastSequence(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last uint64
	for _, e := range s.data {
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	return last, nil
}

func sortEvents(events []*domain.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Sequence < events[j].Sequence
	})
}

// copyEvent returns a deep copy so callers cannot mutate stored address pointers.
func copyEvent(e *domain.Event) *domain.Event {
	c := *e
	if e.From != nil {
		c.From = domain.AddrPtr(*e.From)
	}
	if e.To != nil {
		c.To = domain.AddrPtr(*e.To)
	}
	return &c
}
