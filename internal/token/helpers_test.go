package token

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
	"token-ledger/internal/storage/memory"
)

// signers affirms a mutable set of addresses.
type signers struct {
	mu      sync.Mutex
	allowed map[domain.Address]bool
}

func newSigners(addrs ...domain.Address) *signers {
	s := &signers{allowed: make(map[domain.Address]bool)}
	for _, a := range addrs {
		s.allowed[a] = true
	}
	return s
}

func (s *signers) RequireAuth(_ context.Context, _ Invocation, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allowed[addr] {
		return fmt.Errorf("no signature for %s", addr)
	}
	return nil
}

func (s *signers) set(addr domain.Address, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[addr] = ok
}

type fixedHeight struct {
	mu sync.Mutex
	h  uint32
}

func (f *fixedHeight) CurrentHeight(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h, nil
}

func (f *fixedHeight) advance(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.h += n
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, events []*domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingSink) all() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func testAddr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = 0x7f
	return a
}

var (
	ownerAddr   = testAddr(0xA0)
	user1       = testAddr(1)
	user2       = testAddr(2)
	spenderAddr = testAddr(3)
	outsider    = testAddr(4)
)

type fixture struct {
	token  *Token
	store  *memory.LedgerStore
	auth   *signers
	height *fixedHeight
	sink   *recordingSink
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.NewLedgerStore(),
		auth:   newSigners(ownerAddr, user1, user2, spenderAddr),
		height: &fixedHeight{h: 100},
		sink:   &recordingSink{},
		ctx:    context.Background(),
	}
	clock := func() time.Time { return time.UnixMilli(1700000000000) }
	f.token = New(f.store, f.auth, f.height, WithSink(f.sink), WithClock(clock))

	err := f.token.Deploy(f.ctx, ownerAddr, domain.Metadata{
		Decimals: domain.DefaultDecimals,
		Name:     domain.DefaultName,
		Symbol:   domain.DefaultSymbol,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) balance(t *testing.T, a domain.Address) string {
	t.Helper()
	b, err := f.token.BalanceOf(f.ctx, a)
	require.NoError(t, err)
	return b.String()
}

func (f *fixture) supply(t *testing.T) string {
	t.Helper()
	s, err := f.token.TotalSupply(f.ctx)
	require.NoError(t, err)
	return s.String()
}

func (f *fixture) allowance(t *testing.T, owner, spender domain.Address) string {
	t.Helper()
	a, err := f.token.Allowance(f.ctx, owner, spender)
	require.NoError(t, err)
	return a.String()
}

// sumBalances adds every stored balance.
func (f *fixture) sumBalances(t *testing.T) domain.Amount {
	t.Helper()
	var sum domain.Amount
	err := f.store.View(f.ctx, func(r storage.LedgerReader) error {
		all, err := r.Balances(f.ctx)
		if err != nil {
			return err
		}
		for _, b := range all {
			if sum, err = sum.Add(b); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return sum
}

func amt(n uint64) domain.Amount {
	return domain.NewAmount(n)
}
