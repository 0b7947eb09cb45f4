package token

import (
	"context"
	"fmt"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
	"token-ledger/internal/storage"
)

// Tx is a ledger transaction in progress at a fixed height. It journals the
// events produced by component operations; they are released only after the
// underlying storage transaction commits.
type Tx struct {
	storage.LedgerTx

	height    uint32
	now       func() time.Time
	seq       uint64
	seqLoaded bool
	events    []*domain.Event
}

// NewTx wraps a storage transaction.
func NewTx(ltx storage.LedgerTx, height uint32, now func() time.Time) *Tx {
	if now == nil {
		now = time.Now
	}
	return &Tx{LedgerTx: ltx, height: height, now: now}
}

// Height returns the ledger height the transaction executes at.
func (t *Tx) Height() uint32 {
	return t.height
}

// Events returns the events journaled so far, in emission order.
func (t *Tx) Events() []*domain.Event {
	return t.events
}

// emit assigns the next sequence number and id to e and journals it.
func (t *Tx) emit(ctx context.Context, e *domain.Event) error {
	if !t.seqLoaded {
		seq, err := t.EventSequence(ctx)
		if err != nil {
			return fmt.Errorf("load event sequence: %w", err)
		}
		t.seq = seq
		t.seqLoaded = true
	}

	t.seq++
	if err := t.PutEventSequence(ctx, t.seq); err != nil {
		return fmt.Errorf("store event sequence: %w", err)
	}

	e.Sequence = t.seq
	e.Height = t.height
	e.Timestamp = t.now().UnixMilli()
	e.ID = idhash.ComputeEventID(e)
	t.events = append(t.events, e)
	return nil
}
