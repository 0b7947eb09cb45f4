package storage

import (
	"context"

	"token-ledger/internal/domain"
)

// LedgerStore provides transactional access to token ledger state.
// Update runs fn in a read-write transaction that is committed only if fn
// returns nil; any error discards every write made inside fn.
type LedgerStore interface {
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(r LedgerReader) error) error

	// Update runs fn in a read-write transaction.
	Update(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerReader reads ledger state.
type LedgerReader interface {
	// Metadata returns token metadata. Returns ErrNotFound before deployment.
	Metadata(ctx context.Context) (*domain.Metadata, error)

	// Balance returns the holder balance, zero if the holder has none.
	Balance(ctx context.Context, holder domain.Address) (domain.Amount, error)

	// Balances returns every stored non-zero balance.
	Balances(ctx context.Context) (map[domain.Address]domain.Amount, error)

	// TotalSupply returns the aggregate supply.
	TotalSupply(ctx context.Context) (domain.Amount, error)

	// Allowance returns the stored allowance record regardless of expiry.
	// Returns ErrNotFound if none was ever written.
	Allowance(ctx context.Context, owner, spender domain.Address) (*domain.Allowance, error)

	// Owner returns the current owner, nil if absent.
	Owner(ctx context.Context) (*domain.Address, error)

	// Paused returns the pause flag.
	Paused(ctx context.Context) (bool, error)

	// EventSequence returns the sequence number of the last emitted event.
	EventSequence(ctx context.Context) (uint64, error)
}

// LedgerTx reads and writes ledger state inside a transaction.
type LedgerTx interface {
	LedgerReader

	// PutMetadata writes metadata. Returns ErrDuplicateKey if already set.
	PutMetadata(ctx context.Context, m *domain.Metadata) error

	// PutBalance sets the holder balance. A zero amount removes the entry.
	PutBalance(ctx context.Context, holder domain.Address, amount domain.Amount) error

	// PutTotalSupply sets the aggregate supply.
	PutTotalSupply(ctx context.Context, amount domain.Amount) error

	// PutAllowance overwrites the allowance record for (owner, spender).
	PutAllowance(ctx context.Context, owner, spender domain.Address, a domain.Allowance) error

	// PutOwner sets the owner. nil clears it.
	PutOwner(ctx context.Context, owner *domain.Address) error

	// PutPaused sets the pause flag.
	PutPaused(ctx context.Context, paused bool) error

	// PutEventSequence records the sequence number of the last emitted event.
	PutEventSequence(ctx context.Context, seq uint64) error

	// ConsumeNonce marks nonce as used by signer. Returns ErrDuplicateKey if
	// it was already used.
	ConsumeNonce(ctx context.Context, signer domain.Address, nonce uint64) error
}

// EventStore provides access to the append-only ledger event archive.
type EventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate id.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetBySequenceRange retrieves events with sequence in [from, to] (inclusive), ordered by sequence ASC.
	GetBySequenceRange(ctx context.Context, from, to uint64) ([]*domain.Event, error)

	// GetByAddress retrieves events whose from or to matches addr, ordered by sequence ASC.
	GetByAddress(ctx context.Context, addr domain.Address) ([]*domain.Event, error)

	// LastSequence returns the highest archived sequence, 0 if empty.
	LastSequence(ctx context.Context) (uint64, error)
}
