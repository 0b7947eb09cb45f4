package token

import (
	"context"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Ownable guards administrative operations behind a single owner identity.
type Ownable struct {
	auth Authorizer
}

// NewOwnable creates an access control guard that verifies owners through auth.
func NewOwnable(auth Authorizer) Ownable {
	return Ownable{auth: auth}
}

// Owner returns the current owner, nil once renounced.
func (Ownable) Owner(ctx context.Context, r storage.LedgerReader) (*domain.Address, error) {
	return r.Owner(ctx)
}

// SetOwner writes the owner unconditionally. Only used while deploying.
func (Ownable) SetOwner(ctx context.Context, tx *Tx, owner domain.Address) error {
	return tx.PutOwner(ctx, &owner)
}

// RequireOwner fails with ErrUnauthorized unless an owner exists and the
// invocation is authorized for it.
func (o Ownable) RequireOwner(ctx context.Context, tx *Tx) (domain.Address, error) {
	owner, err := tx.Owner(ctx)
	if err != nil {
		return domain.Address{}, err
	}
	if owner == nil {
		return domain.Address{}, fmt.Errorf("%w: no owner", ErrUnauthorized)
	}
	if err := authorize(ctx, o.auth, tx, *owner); err != nil {
		return domain.Address{}, err
	}
	return *owner, nil
}

// OnlyOwner fails with ErrUnauthorized unless caller is the owner and the
// invocation is authorized for caller.
func (o Ownable) OnlyOwner(ctx context.Context, tx *Tx, caller domain.Address) error {
	owner, err := tx.Owner(ctx)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("%w: no owner", ErrUnauthorized)
	}
	if *owner != caller {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	return authorize(ctx, o.auth, tx, caller)
}

// TransferOwnership hands ownership to newOwner. The caller must already have
// passed RequireOwner for previous.
func (Ownable) TransferOwnership(ctx context.Context, tx *Tx, previous, newOwner domain.Address) error {
	if err := tx.PutOwner(ctx, &newOwner); err != nil {
		return err
	}
	return tx.emit(ctx, &domain.Event{
		Kind: domain.EventOwnershipTransfer,
		From: domain.AddrPtr(previous),
		To:   domain.AddrPtr(newOwner),
	})
}

// RenounceOwnership clears the owner. Every owner-gated operation fails afterwards.
func (Ownable) RenounceOwnership(ctx context.Context, tx *Tx, previous domain.Address) error {
	if err := tx.PutOwner(ctx, nil); err != nil {
		return err
	}
	return tx.emit(ctx, &domain.Event{
		Kind: domain.EventOwnershipRenounced,
		From: domain.AddrPtr(previous),
	})
}

// authorize asks the oracle to affirm addr, mapping any refusal to ErrUnauthorized.
func authorize(ctx context.Context, auth Authorizer, inv Invocation, addr domain.Address) error {
	if auth == nil {
		return fmt.Errorf("%w: no authorizer configured", ErrUnauthorized)
	}
	if err := auth.RequireAuth(ctx, inv, addr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnauthorized, addr, err)
	}
	return nil
}
