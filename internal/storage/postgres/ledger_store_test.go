package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

func testAddr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = 0xff
	return a
}

func TestLedgerStore_MetadataWriteOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	err := store.View(ctx, func(r storage.LedgerReader) error {
		_, err := r.Metadata(ctx)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	meta := &domain.Metadata{Decimals: 18, Name: "Aura Coin", Symbol: "AURA", CreatedAt: 1700000000000}
	err = store.Update(ctx, func(tx storage.LedgerTx) error { return tx.PutMetadata(ctx, meta) })
	require.NoError(t, err)

	err = store.Update(ctx, func(tx storage.LedgerTx) error { return tx.PutMetadata(ctx, meta) })
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		got, err := r.Metadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, *meta, *got)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerStore_BalancesAndSupply(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()
	alice, bob := testAddr(1), testAddr(2)
	big := domain.MaxAmount()

	err := store.Update(ctx, func(tx storage.LedgerTx) error {
		if err := tx.PutBalance(ctx, alice, big); err != nil {
			return err
		}
		if err := tx.PutBalance(ctx, bob, domain.NewAmount(5)); err != nil {
			return err
		}
		return tx.PutTotalSupply(ctx, big)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		got, err := r.Balance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, big.String(), got.String())

		supply, err := r.TotalSupply(ctx)
		require.NoError(t, err)
		assert.Equal(t, big.String(), supply.String())

		missing, err := r.Balance(ctx, testAddr(3))
		require.NoError(t, err)
		assert.True(t, missing.IsZero())
		return nil
	})
	require.NoError(t, err)

	// Zero balance removes the row.
	err = store.Update(ctx, func(tx storage.LedgerTx) error {
		return tx.PutBalance(ctx, bob, domain.Amount{})
	})
	require.NoError(t, err)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		all, err := r.Balances(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Equal(t, big.String(), all[alice].String())
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerStore_RollbackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()
	alice := testAddr(1)
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.LedgerTx) error {
		if err := tx.PutBalance(ctx, alice, domain.NewAmount(10)); err != nil {
			return err
		}
		if err := tx.PutPaused(ctx, true); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		bal, err := r.Balance(ctx, alice)
		require.NoError(t, err)
		assert.True(t, bal.IsZero())

		paused, err := r.Paused(ctx)
		require.NoError(t, err)
		assert.False(t, paused)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerStore_AllowanceOwnerSequence(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()
	owner, spender := testAddr(1), testAddr(2)

	err := store.Update(ctx, func(tx storage.LedgerTx) error {
		if err := tx.PutAllowance(ctx, owner, spender, domain.Allowance{Amount: domain.NewAmount(70), ExpirationHeight: 1000}); err != nil {
			return err
		}
		if err := tx.PutOwner(ctx, &owner); err != nil {
			return err
		}
		return tx.PutEventSequence(ctx, 42)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		a, err := r.Allowance(ctx, owner, spender)
		require.NoError(t, err)
		assert.Equal(t, "70", a.Amount.String())
		assert.Equal(t, uint32(1000), a.ExpirationHeight)

		_, err = r.Allowance(ctx, spender, owner)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		gotOwner, err := r.Owner(ctx)
		require.NoError(t, err)
		require.NotNil(t, gotOwner)
		assert.Equal(t, owner, *gotOwner)

		seq, err := r.EventSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), seq)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx storage.LedgerTx) error { return tx.PutOwner(ctx, nil) })
	require.NoError(t, err)

	err = store.View(ctx, func(r storage.LedgerReader) error {
		gotOwner, err := r.Owner(ctx)
		require.NoError(t, err)
		assert.Nil(t, gotOwner)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerStore_ConsumeNonce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()
	alice, bob := testAddr(1), testAddr(2)

	consume := func(signer domain.Address, nonce uint64) error {
		return store.Update(ctx, func(tx storage.LedgerTx) error {
			return tx.ConsumeNonce(ctx, signer, nonce)
		})
	}

	require.NoError(t, consume(alice, 1))
	assert.ErrorIs(t, consume(alice, 1), storage.ErrDuplicateKey)
	assert.NoError(t, consume(bob, 1))

	// Values above MaxInt64 round-trip through the BIGINT column.
	require.NoError(t, consume(alice, ^uint64(0)))
	assert.ErrorIs(t, consume(alice, ^uint64(0)), storage.ErrDuplicateKey)

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx storage.LedgerTx) error {
		if err := tx.ConsumeNonce(ctx, alice, 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, consume(alice, 2))
}

func TestErrorClassification(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, retryable(wrap("40001")))
	assert.True(t, retryable(wrap("40P01")))
	assert.False(t, retryable(wrap("23505")))
	assert.False(t, retryable(errors.New("connection reset")))
	assert.False(t, retryable(nil))

	assert.True(t, isDuplicateKeyError(wrap("23505")))
	assert.False(t, isDuplicateKeyError(wrap("40001")))
	assert.False(t, isDuplicateKeyError(nil))
}
