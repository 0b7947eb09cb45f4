package token

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// Balances maintains per-holder balances and the aggregate supply.
// Every operation keeps total supply equal to the sum of balances.
type Balances struct{}

// BalanceOf returns the holder's balance, zero if never written.
func (Balances) BalanceOf(ctx context.Context, r storage.LedgerReader, holder domain.Address) (domain.Amount, error) {
	return r.Balance(ctx, holder)
}

// TotalSupply returns the aggregate supply.
func (Balances) TotalSupply(ctx context.Context, r storage.LedgerReader) (domain.Amount, error) {
	return r.TotalSupply(ctx)
}

// Mint credits holder and increases supply by amount.
func (Balances) Mint(ctx context.Context, tx *Tx, holder domain.Address, amount domain.Amount) error {
	supply, err := tx.TotalSupply(ctx)
	if err != nil {
		return err
	}
	newSupply, err := supply.Add(amount)
	if err != nil {
		return fmt.Errorf("mint %s: supply %s: %w", amount, supply, ErrOverflow)
	}

	balance, err := tx.Balance(ctx, holder)
	if err != nil {
		return err
	}
	newBalance, err := balance.Add(amount)
	if err != nil {
		return fmt.Errorf("mint %s: balance %s: %w", amount, balance, ErrOverflow)
	}

	if err := tx.PutBalance(ctx, holder, newBalance); err != nil {
		return err
	}
	if err := tx.PutTotalSupply(ctx, newSupply); err != nil {
		return err
	}

	return tx.emit(ctx, &domain.Event{
		Kind:   domain.EventMint,
		To:     domain.AddrPtr(holder),
		Amount: amount,
	})
}

// Burn debits holder and decreases supply by amount.
func (Balances) Burn(ctx context.Context, tx *Tx, holder domain.Address, amount domain.Amount) error {
	if err := debit(ctx, tx, holder, amount); err != nil {
		return err
	}

	supply, err := tx.TotalSupply(ctx)
	if err != nil {
		return err
	}
	newSupply, ok := supply.Sub(amount)
	if !ok {
		// Unreachable while the supply invariant holds.
		return fmt.Errorf("burn %s exceeds supply %s", amount, supply)
	}
	if err := tx.PutTotalSupply(ctx, newSupply); err != nil {
		return err
	}

	return tx.emit(ctx, &domain.Event{
		Kind:   domain.EventBurn,
		From:   domain.AddrPtr(holder),
		Amount: amount,
	})
}

// Transfer moves amount from one holder to another. from == to and zero
// amounts succeed and still emit.
func (Balances) Transfer(ctx context.Context, tx *Tx, from, to domain.Address, amount domain.Amount) error {
	if err := debit(ctx, tx, from, amount); err != nil {
		return err
	}

	balance, err := tx.Balance(ctx, to)
	if err != nil {
		return err
	}
	newBalance, err := balance.Add(amount)
	if err != nil {
		return fmt.Errorf("transfer %s to %s: %w", amount, to, ErrOverflow)
	}
	if err := tx.PutBalance(ctx, to, newBalance); err != nil {
		return err
	}

	return tx.emit(ctx, &domain.Event{
		Kind:   domain.EventTransfer,
		From:   domain.AddrPtr(from),
		To:     domain.AddrPtr(to),
		Amount: amount,
	})
}

func debit(ctx context.Context, tx *Tx, holder domain.Address, amount domain.Amount) error {
	balance, err := tx.Balance(ctx, holder)
	if err != nil {
		return err
	}
	newBalance, ok := balance.Sub(amount)
	if !ok {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, holder, balance, amount)
	}
	return tx.PutBalance(ctx, holder, newBalance)
}

// isNotFound reports whether err is storage.ErrNotFound.
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
