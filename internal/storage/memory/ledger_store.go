package memory

import (
	"context"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

type allowanceKey struct {
	owner   domain.Address
	spender domain.Address
}

type nonceKey struct {
	signer domain.Address
	nonce  uint64
}

// ledgerState is the committed ledger.
type ledgerState struct {
	metadata    *domain.Metadata
	balances    map[domain.Address]domain.Amount
	totalSupply domain.Amount
	allowances  map[allowanceKey]domain.Allowance
	owner       *domain.Address
	paused      bool
	eventSeq    uint64
	nonces      map[nonceKey]struct{}
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// Update transactions are serialized and write to an overlay that is
// merged into the committed state only when the callback succeeds.
type LedgerStore struct {
	mu    sync.RWMutex
	state ledgerState
}

// NewLedgerStore creates a new empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		state: ledgerState{
			balances:   make(map[domain.Address]domain.Amount),
			allowances: make(map[allowanceKey]domain.Allowance),
			nonces:     make(map[nonceKey]struct{}),
		},
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// View runs fn against the committed state.
func (s *LedgerStore) View(_ context.Context, fn func(r storage.LedgerReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newLedgerTx(&s.state))
}

// Update runs fn in a transaction. Writes are discarded if fn returns an error.
func (s *LedgerStore) Update(_ context.Context, fn func(tx storage.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newLedgerTx(&s.state)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ledgerTx buffers writes on top of a committed ledgerState.
type ledgerTx struct {
	base *ledgerState

	metadata    *domain.Metadata
	balances    map[domain.Address]domain.Amount
	totalSupply *domain.Amount
	allowances  map[allowanceKey]domain.Allowance
	ownerSet    bool
	owner       *domain.Address
	paused      *bool
	eventSeq    *uint64
	nonces      map[nonceKey]struct{}
}

func newLedgerTx(base *ledgerState) *ledgerTx {
	return &ledgerTx{
		base:       base,
		balances:   make(map[domain.Address]domain.Amount),
		allowances: make(map[allowanceKey]domain.Allowance),
		nonces:     make(map[nonceKey]struct{}),
	}
}

var _ storage.LedgerTx = (*ledgerTx)(nil)

func (t *ledgerTx) Metadata(_ context.Context) (*domain.Metadata, error) {
	m := t.metadata
	if m == nil {
		m = t.base.metadata
	}
	if m == nil {
		return nil, storage.ErrNotFound
	}
	metaCopy := *m
	return &metaCopy, nil
}

func (t *ledgerTx) Balance(_ context.Context, holder domain.Address) (domain.Amount, error) {
	if a, ok := t.balances[holder]; ok {
		return a, nil
	}
	return t.base.balances[holder], nil
}

func (t *ledgerTx) Balances(_ context.Context) (map[domain.Address]domain.Amount, error) {
	result := make(map[domain.Address]domain.Amount, len(t.base.balances))
	for holder, a := range t.base.balances {
		result[holder] = a
	}
	for holder, a := range t.balances {
		if a.IsZero() {
			delete(result, holder)
			continue
		}
		result[holder] = a
	}
	return result, nil
}

func (t *ledgerTx) TotalSupply(_ context.Context) (domain.Amount, error) {
	if t.totalSupply != nil {
		return *t.totalSupply, nil
	}
	return t.base.totalSupply, nil
}

func (t *ledgerTx) Allowance(_ context.Context, owner, spender domain.Address) (*domain.Allowance, error) {
	key := allowanceKey{owner: owner, spender: spender}
	a, ok := t.allowances[key]
	if !ok {
		a, ok = t.base.allowances[key]
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (t *ledgerTx) Owner(_ context.Context) (*domain.Address, error) {
	owner := t.base.owner
	if t.ownerSet {
		owner = t.owner
	}
	if owner == nil {
		return nil, nil
	}
	ownerCopy := *owner
	return &ownerCopy, nil
}

func (t *ledgerTx) Paused(_ context.Context) (bool, error) {
	if t.paused != nil {
		return *t.paused, nil
	}
	return t.base.paused, nil
}

func (t *ledgerTx) EventSequence(_ context.Context) (uint64, error) {
	if t.eventSeq != nil {
		return *t.eventSeq, nil
	}
	return t.base.eventSeq, nil
}

func (t *ledgerTx) PutMetadata(_ context.Context, m *domain.Metadata) error {
	if m == nil {
		return storage.ErrInvalidInput
	}
	if t.metadata != nil || t.base.metadata != nil {
		return storage.ErrDuplicateKey
	}
	metaCopy := *m
	t.metadata = &metaCopy
	return nil
}

func (t *ledgerTx) PutBalance(_ context.Context, holder domain.Address, amount domain.Amount) error {
	t.balances[holder] = amount
	return nil
}

func (t *ledgerTx) PutTotalSupply(_ context.Context, amount domain.Amount) error {
	t.totalSupply = &amount
	return nil
}

func (t *ledgerTx) PutAllowance(_ context.Context, owner, spender domain.Address, a domain.Allowance) error {
	t.allowances[allowanceKey{owner: owner, spender: spender}] = a
	return nil
}

func (t *ledgerTx) PutOwner(_ context.Context, owner *domain.Address) error {
	t.ownerSet = true
	if owner == nil {
		t.owner = nil
		return nil
	}
	ownerCopy := *owner
	t.owner = &ownerCopy
	return nil
}

func (t *ledgerTx) PutPaused(_ context.Context, paused bool) error {
	t.paused = &paused
	return nil
}

func (t *ledgerTx) PutEventSequence(_ context.Context, seq uint64) error {
	t.eventSeq = &seq
	return nil
}

func (t *ledgerTx) ConsumeNonce(_ context.Context, signer domain.Address, nonce uint64) error {
	key := nonceKey{signer: signer, nonce: nonce}
	if _, ok := t.base.nonces[key]; ok {
		return storage.ErrDuplicateKey
	}
	if _, ok := t.nonces[key]; ok {
		return storage.ErrDuplicateKey
	}
	t.nonces[key] = struct{}{}
	return nil
}

// commit merges buffered writes into the base state. Caller holds the store lock.
func (t *ledgerTx) commit() {
	if t.metadata != nil {
		t.base.metadata = t.metadata
	}
	for holder, a := range t.balances {
		if a.IsZero() {
			delete(t.base.balances, holder)
			continue
		}
		t.base.balances[holder] = a
	}
	if t.totalSupply != nil {
		t.base.totalSupply = *t.totalSupply
	}
	for key, a := range t.allowances {
		t.base.allowances[key] = a
	}
	if t.ownerSet {
		t.base.owner = t.owner
	}
	if t.paused != nil {
		t.base.paused = *t.paused
	}
	if t.eventSeq != nil {
		t.base.eventSeq = *t.eventSeq
	}
	for key := range t.nonces {
		t.base.nonces[key] = struct{}{}
	}
}
