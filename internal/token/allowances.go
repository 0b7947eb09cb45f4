package token

import (
	"context"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Allowances maintains (owner, spender) spending permissions.
// Expiry is evaluated at read time; expired records stay in storage.
type Allowances struct{}

// Allowance returns the live amount at height, zero if absent or expired.
func (Allowances) Allowance(ctx context.Context, r storage.LedgerReader, height uint32, owner, spender domain.Address) (domain.Amount, error) {
	a, err := r.Allowance(ctx, owner, spender)
	if err != nil {
		if isNotFound(err) {
			return domain.Amount{}, nil
		}
		return domain.Amount{}, err
	}
	if !a.LiveAt(height) {
		return domain.Amount{}, nil
	}
	return a.Amount, nil
}

// Approve overwrites the allowance for (owner, spender). A non-zero amount
// with an expiration below the current height fails with ErrInvalidExpiration.
func (Allowances) Approve(ctx context.Context, tx *Tx, owner, spender domain.Address, amount domain.Amount, expirationHeight uint32) error {
	if !amount.IsZero() && expirationHeight < tx.Height() {
		return fmt.Errorf("%w: expiration %d is before current height %d", ErrInvalidExpiration, expirationHeight, tx.Height())
	}

	err := tx.PutAllowance(ctx, owner, spender, domain.Allowance{
		Amount:           amount,
		ExpirationHeight: expirationHeight,
	})
	if err != nil {
		return err
	}

	return tx.emit(ctx, &domain.Event{
		Kind:             domain.EventApprove,
		From:             domain.AddrPtr(owner),
		To:               domain.AddrPtr(spender),
		Amount:           amount,
		ExpirationHeight: expirationHeight,
	})
}

// SpendAllowance consumes amount from the live allowance of (owner, spender).
// The expiration height is left unchanged. spender == owner gets no shortcut.
func (Allowances) SpendAllowance(ctx context.Context, tx *Tx, owner, spender domain.Address, amount domain.Amount) error {
	stored, err := tx.Allowance(ctx, owner, spender)
	if err != nil && !isNotFound(err) {
		return err
	}

	var live domain.Amount
	if stored != nil && stored.LiveAt(tx.Height()) {
		live = stored.Amount
	}

	remaining, ok := live.Sub(amount)
	if !ok {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s", ErrInsufficientAllowance, spender, live, owner, amount)
	}
	if amount.IsZero() {
		return nil
	}

	return tx.PutAllowance(ctx, owner, spender, domain.Allowance{
		Amount:           remaining,
		ExpirationHeight: stored.ExpirationHeight,
	})
}
