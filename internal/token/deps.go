package token

import (
	"context"

	"token-ledger/internal/domain"
)

// Authorizer answers whether the current invocation carries verified
// authorization for an identity. Implementations must check a capability
// proof, not value equality.
type Authorizer interface {
	RequireAuth(ctx context.Context, inv Invocation, addr domain.Address) error
}

// Invocation is the ledger transaction an authorization is checked in.
// A proof consumed through it is spent only if the transaction commits.
type Invocation interface {
	// Height returns the ledger height the invocation executes at.
	Height() uint32

	// ConsumeNonce marks nonce as used by signer. Returns
	// storage.ErrDuplicateKey if it was already used.
	ConsumeNonce(ctx context.Context, signer domain.Address, nonce uint64) error
}

var _ Invocation = (*Tx)(nil)

// HeightSource supplies the current, monotonically non-decreasing ledger height.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (uint32, error)
}

// Sink receives events after the transaction that produced them has committed.
type Sink interface {
	Publish(ctx context.Context, events []*domain.Event) error
}
