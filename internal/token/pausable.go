package token

import (
	"context"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Pausable is the global switch gating value-moving operations.
type Pausable struct{}

// Paused reports whether the guard is engaged.
func (Pausable) Paused(ctx context.Context, r storage.LedgerReader) (bool, error) {
	return r.Paused(ctx)
}

// RequireNotPaused fails with ErrContractPaused while the guard is engaged.
func (Pausable) RequireNotPaused(ctx context.Context, r storage.LedgerReader) error {
	paused, err := r.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return ErrContractPaused
	}
	return nil
}

// Pause engages the guard. Pausing while paused succeeds and re-emits.
func (Pausable) Pause(ctx context.Context, tx *Tx, caller domain.Address) error {
	if err := tx.PutPaused(ctx, true); err != nil {
		return err
	}
	return tx.emit(ctx, &domain.Event{Kind: domain.EventPaused, From: domain.AddrPtr(caller)})
}

// Unpause releases the guard. Unpausing while unpaused succeeds and re-emits.
func (Pausable) Unpause(ctx context.Context, tx *Tx, caller domain.Address) error {
	if err := tx.PutPaused(ctx, false); err != nil {
		return err
	}
	return tx.emit(ctx, &domain.Event{Kind: domain.EventUnpaused, From: domain.AddrPtr(caller)})
}
