package token

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

func TestDeploy_Metadata(t *testing.T) {
	f := newFixture(t)

	name, err := f.token.Name(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Aura Coin", name)

	symbol, err := f.token.Symbol(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "AURA", symbol)

	decimals, err := f.token.Decimals(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(18), decimals)

	owner, err := f.token.GetOwner(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, ownerAddr, *owner)

	assert.Equal(t, "0", f.supply(t))

	paused, err := f.token.Paused(f.ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	err = f.token.Deploy(f.ctx, user1, domain.Metadata{Name: "Other", Symbol: "OTH"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	owner, err = f.token.GetOwner(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, *owner, "failed redeploy must not replace owner")
}

func TestScenario_MintTransferApproveBurn(t *testing.T) {
	f := newFixture(t)

	// construction + mint
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(1000)))
	assert.Equal(t, "1000", f.balance(t, user1))
	assert.Equal(t, "1000", f.supply(t))

	// transfer
	require.NoError(t, f.token.Transfer(f.ctx, user1, user2, amt(500)))
	assert.Equal(t, "500", f.balance(t, user1))
	assert.Equal(t, "500", f.balance(t, user2))

	// approve + transfer_from
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(500), 200))
	require.NoError(t, f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(300)))
	assert.Equal(t, "200", f.balance(t, user1))
	assert.Equal(t, "800", f.balance(t, user2))
	assert.Equal(t, "200", f.allowance(t, user1, spenderAddr))

	// burn
	require.NoError(t, f.token.Burn(f.ctx, user1, amt(200)))
	assert.Equal(t, "0", f.balance(t, user1))
	assert.Equal(t, "800", f.supply(t))

	assert.Equal(t, f.supply(t), f.sumBalances(t).String())
}

func TestMint_NonOwnerUnauthorized(t *testing.T) {
	f := newFixture(t)

	// Owner identity present but no proof for it in this invocation.
	f.auth.set(ownerAddr, false)

	err := f.token.Mint(f.ctx, user1, amt(1000))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "0", f.balance(t, user1))
	assert.Equal(t, "0", f.supply(t))
	assert.Empty(t, f.sink.all())
}

func TestMint_Overflow(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.token.Mint(f.ctx, user1, domain.MaxAmount()))

	err := f.token.Mint(f.ctx, user2, amt(1))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, "0", f.balance(t, user2))
	assert.Equal(t, domain.MaxAmount().String(), f.supply(t))
}

func TestTransfer_RequiresAuthForFrom(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))

	f.auth.set(user1, false)
	err := f.token.Transfer(f.ctx, user1, user2, amt(5))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "10", f.balance(t, user1))

	err = f.token.Transfer(f.ctx, outsider, user2, amt(0))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))

	err := f.token.Transfer(f.ctx, user1, user2, amt(11))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "10", f.balance(t, user1))
	assert.Equal(t, "0", f.balance(t, user2))
}

func TestTransfer_SelfZeroIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))
	before := len(f.sink.all())

	require.NoError(t, f.token.Transfer(f.ctx, user1, user1, amt(0)))
	assert.Equal(t, "10", f.balance(t, user1))

	// Self transfer of the full balance also nets out.
	require.NoError(t, f.token.Transfer(f.ctx, user1, user1, amt(10)))
	assert.Equal(t, "10", f.balance(t, user1))

	events := f.sink.all()
	require.Len(t, events, before+2)
	assert.Equal(t, domain.EventTransfer, events[before].Kind)
}

func TestTransfer_ZeroFromEmptyAccount(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.token.Transfer(f.ctx, user1, user2, amt(0)))
	assert.Equal(t, "0", f.balance(t, user1))
	assert.Equal(t, "0", f.balance(t, user2))
}

func TestPause_GatesMutations(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(100)))
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(50), 500))

	require.NoError(t, f.token.Pause(f.ctx, ownerAddr))

	assert.ErrorIs(t, f.token.Transfer(f.ctx, user1, user2, amt(1)), ErrContractPaused)
	assert.ErrorIs(t, f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(1)), ErrContractPaused)
	assert.ErrorIs(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(1), 500), ErrContractPaused)
	assert.ErrorIs(t, f.token.Mint(f.ctx, user1, amt(1)), ErrContractPaused)
	assert.ErrorIs(t, f.token.Burn(f.ctx, user1, amt(1)), ErrContractPaused)
	assert.ErrorIs(t, f.token.BurnFrom(f.ctx, spenderAddr, user1, amt(1)), ErrContractPaused)

	// Reads still work.
	assert.Equal(t, "100", f.balance(t, user1))
	assert.Equal(t, "50", f.allowance(t, user1, spenderAddr))

	// Idempotent.
	require.NoError(t, f.token.Pause(f.ctx, ownerAddr))

	require.NoError(t, f.token.Unpause(f.ctx, ownerAddr))
	require.NoError(t, f.token.Transfer(f.ctx, user1, user2, amt(1)))
	assert.Equal(t, "1", f.balance(t, user2))

	require.NoError(t, f.token.Unpause(f.ctx, ownerAddr))
}

func TestPause_OwnerOnly(t *testing.T) {
	f := newFixture(t)

	// Caller is authorized but is not the owner.
	err := f.token.Pause(f.ctx, user1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Caller names the owner but carries no proof.
	f.auth.set(ownerAddr, false)
	err = f.token.Pause(f.ctx, ownerAddr)
	assert.ErrorIs(t, err, ErrUnauthorized)

	paused, err := f.token.Paused(f.ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	f.auth.set(ownerAddr, true)
	require.NoError(t, f.token.Pause(f.ctx, ownerAddr))
	assert.ErrorIs(t, f.token.Unpause(f.ctx, user1), ErrUnauthorized)
}

func TestApprove_Semantics(t *testing.T) {
	f := newFixture(t)

	// Overwrite, not additive.
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(100), 200))
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(30), 200))
	assert.Equal(t, "30", f.allowance(t, user1, spenderAddr))

	// Past expiration with non-zero amount.
	err := f.token.Approve(f.ctx, user1, spenderAddr, amt(10), 99)
	assert.ErrorIs(t, err, ErrInvalidExpiration)
	assert.Equal(t, "30", f.allowance(t, user1, spenderAddr))

	// Zero amount with past expiration clears the allowance.
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(0), 1))
	assert.Equal(t, "0", f.allowance(t, user1, spenderAddr))

	// Owner must authorize.
	f.auth.set(user1, false)
	err = f.token.Approve(f.ctx, user1, spenderAddr, amt(5), 200)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAllowance_Expiry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(1000)))

	const expiration = 150
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(500), expiration))
	assert.Equal(t, "500", f.allowance(t, user1, spenderAddr))

	f.height.advance(expiration - 100) // height == expiration
	assert.Equal(t, "0", f.allowance(t, user1, spenderAddr))

	f.height.advance(1)
	assert.Equal(t, "0", f.allowance(t, user1, spenderAddr))

	err := f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(1))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
	assert.Equal(t, "1000", f.balance(t, user1))

	// The expired record is left in storage untouched.
	err = f.store.View(f.ctx, func(r storage.LedgerReader) error {
		a, err := r.Allowance(f.ctx, user1, spenderAddr)
		require.NoError(t, err)
		assert.Equal(t, "500", a.Amount.String())
		return nil
	})
	require.NoError(t, err)
}

func TestTransferFrom_Atomic(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(100), 500))

	// Allowance suffices, balance does not: the allowance spend must roll back.
	err := f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(50))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, "100", f.allowance(t, user1, spenderAddr))
	assert.Equal(t, "10", f.balance(t, user1))

	// Spender must authorize.
	f.auth.set(spenderAddr, false)
	err = f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(5))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransferFrom_SelfRequiresAllowance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))

	err := f.token.TransferFrom(f.ctx, user1, user1, user2, amt(5))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, f.token.Approve(f.ctx, user1, user1, amt(5), 500))
	require.NoError(t, f.token.TransferFrom(f.ctx, user1, user1, user2, amt(5)))
	assert.Equal(t, "0", f.allowance(t, user1, user1))
	assert.Equal(t, "5", f.balance(t, user2))
}

func TestBurnFrom(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.token.Mint(f.ctx, user1, amt(100)))
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(40), 500))

	require.NoError(t, f.token.BurnFrom(f.ctx, spenderAddr, user1, amt(30)))
	assert.Equal(t, "70", f.balance(t, user1))
	assert.Equal(t, "70", f.supply(t))
	assert.Equal(t, "10", f.allowance(t, user1, spenderAddr))

	err := f.token.BurnFrom(f.ctx, spenderAddr, user1, amt(11))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	err = f.token.Burn(f.ctx, user2, amt(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestOwnership_TransferAndRenounce(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.token.TransferOwnership(f.ctx, user2))
	owner, err := f.token.GetOwner(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, user2, *owner)

	// Previous owner lost its rights.
	assert.ErrorIs(t, f.token.Pause(f.ctx, ownerAddr), ErrUnauthorized)
	require.NoError(t, f.token.Pause(f.ctx, user2))

	// Ownership administration is not pause-gated.
	require.NoError(t, f.token.RenounceOwnership(f.ctx))
	owner, err = f.token.GetOwner(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, owner)

	assert.ErrorIs(t, f.token.Unpause(f.ctx, user2), ErrUnauthorized)
	assert.ErrorIs(t, f.token.Mint(f.ctx, user1, amt(1)), ErrUnauthorized)
	assert.ErrorIs(t, f.token.TransferOwnership(f.ctx, user1), ErrUnauthorized)
	assert.ErrorIs(t, f.token.RenounceOwnership(f.ctx), ErrUnauthorized)
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))
	require.NoError(t, f.token.Approve(f.ctx, user1, spenderAddr, amt(5), 300))
	require.NoError(t, f.token.TransferFrom(f.ctx, spenderAddr, user1, user2, amt(5)))
	require.NoError(t, f.token.Pause(f.ctx, ownerAddr))
	_ = f.token.Transfer(f.ctx, user1, user2, amt(1)) // rejected, emits nothing

	events := f.sink.all()
	require.Len(t, events, 4)

	kinds := []domain.EventKind{domain.EventMint, domain.EventApprove, domain.EventTransfer, domain.EventPaused}
	for i, e := range events {
		assert.Equal(t, kinds[i], e.Kind)
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.Equal(t, uint32(100), e.Height)
		assert.Len(t, e.ID, 64)
	}

	assert.Equal(t, user1, *events[1].From)
	assert.Equal(t, spenderAddr, *events[1].To)
	assert.Equal(t, uint32(300), events[1].ExpirationHeight)
	assert.Equal(t, int64(1700000000000), events[0].Timestamp)
}

func TestEvents_SinkFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("sink down")

	require.NoError(t, f.token.Mint(f.ctx, user1, amt(10)))
	assert.Equal(t, "10", f.balance(t, user1))
}

// TestSupplyInvariant runs random operations and checks that total supply
// always equals the sum of balances.
// slowSink records batches and stalls on some of them.
type slowSink struct {
	recordingSink
	calls int
}

func (s *slowSink) Publish(ctx context.Context, events []*domain.Event) error {
	s.mu.Lock()
	s.calls++
	pause := time.Duration(s.calls%5) * 20 * time.Microsecond
	s.mu.Unlock()
	time.Sleep(pause)
	return s.recordingSink.Publish(ctx, events)
}

func TestEvents_ConcurrentOperationsPublishInOrder(t *testing.T) {
	f := newFixture(t)
	sink := &slowSink{}
	tok := New(f.store, f.auth, f.height, WithSink(sink))

	const workers, perWorker = 8, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, tok.Mint(f.ctx, user1, amt(1)))
			}
		}()
	}
	wg.Wait()

	events := sink.all()
	require.Len(t, events, workers*perWorker)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Sequence, "event %d out of order", i)
	}
	assert.Equal(t, "160", f.balance(t, user1))
}

func TestSupplyInvariant(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(42))
	holders := []domain.Address{user1, user2, spenderAddr}

	for _, h := range holders {
		require.NoError(t, f.token.Approve(f.ctx, h, spenderAddr, amt(1_000_000), 10_000))
	}

	for i := 0; i < 500; i++ {
		a := holders[rng.Intn(len(holders))]
		b := holders[rng.Intn(len(holders))]
		n := amt(uint64(rng.Intn(200)))

		var err error
		switch rng.Intn(5) {
		case 0:
			err = f.token.Mint(f.ctx, a, n)
		case 1:
			err = f.token.Burn(f.ctx, a, n)
		case 2:
			err = f.token.Transfer(f.ctx, a, b, n)
		case 3:
			err = f.token.TransferFrom(f.ctx, spenderAddr, a, b, n)
		case 4:
			err = f.token.BurnFrom(f.ctx, spenderAddr, a, n)
		}
		if err != nil {
			require.True(t,
				errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInsufficientAllowance),
				"unexpected error: %v", err)
		}

		require.Equal(t, f.supply(t), f.sumBalances(t).String(), "step %d", i)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeSuccess},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrContractPaused, CodeContractPaused},
		{ErrInsufficientBalance, CodeInsufficientBalance},
		{ErrInsufficientAllowance, CodeInsufficientAllowance},
		{domain.ErrInvalidAmount, CodeInvalidAmount},
		{ErrInvalidExpiration, CodeInvalidExpiration},
		{domain.ErrAmountOverflow, CodeOverflow},
		{storage.ErrNotFound, CodeNotDeployed},
		{errors.New("other"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err))
	}
}
