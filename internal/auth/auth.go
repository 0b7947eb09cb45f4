// Package auth provides authorization oracles for the token ledger.
//
// An oracle affirms that the current invocation carries the authorization of
// a given address. Proofs and signer sets travel with the request context.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"

	"filippo.io/edwards25519"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
	"token-ledger/internal/token"
)

var (
	// ErrNoProof is returned when the invocation carries no proof for the address.
	ErrNoProof = errors.New("no proof for address")

	// ErrBadSignature is returned when a proof does not verify.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrInvalidKey is returned when an address is not a valid ed25519 public key.
	ErrInvalidKey = errors.New("address is not a valid public key")

	// ErrProofExpired is returned when the ledger has reached the proof's expiration height.
	ErrProofExpired = errors.New("proof expired")

	// ErrNonceUsed is returned when the signer already spent the proof's nonce.
	ErrNonceUsed = errors.New("nonce already used")
)

// PayloadDomain prefixes every signed payload so signatures made for this
// ledger cannot be reused as signatures over other messages.
const PayloadDomain = "token-ledger/invoke/v1"


type ctxKey int

const (
	proofsKey ctxKey = iota
	signersKey
)

// Proofs are the signatures attached to one invocation. Every signer signs
// the same payload; see Payload.
type Proofs struct {
	Op         string                    // operation name
	Args       []byte                    // encoded arguments, as received
	Nonce      uint64                    // single use per signer
	Expiration uint32                    // first ledger height at which the proof is void
	Signatures map[domain.Address][]byte // ed25519 signature per address
}

// Payload returns the bytes each signer signed.
func (p Proofs) Payload() []byte {
	return Payload(p.Op, p.Nonce, p.Expiration, p.Args)
}

// WithProofs attaches invocation proofs to ctx.
func WithProofs(ctx context.Context, p Proofs) context.Context {
	return context.WithValue(ctx, proofsKey, p)
}

// ProofsFrom returns the proofs attached to ctx.
func ProofsFrom(ctx context.Context) (Proofs, bool) {
	p, ok := ctx.Value(proofsKey).(Proofs)
	return p, ok
}

// WithSigners attaches a fixed signer set to ctx for Static.
func WithSigners(ctx context.Context, addrs ...domain.Address) context.Context {
	set := make(map[domain.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return context.WithValue(ctx, signersKey, set)
}

// SignatureAuthorizer affirms an address when the invocation carries a valid
// ed25519 signature by that address over the invocation payload. A proof is
// void from its expiration height on, and each (signer, nonce) pair
// authorizes at most one committed invocation.
type SignatureAuthorizer struct{}

var _ token.Authorizer = SignatureAuthorizer{}

// RequireAuth implements token.Authorizer.
func (SignatureAuthorizer) RequireAuth(ctx context.Context, inv token.Invocation, addr domain.Address) error {
	p, ok := ProofsFrom(ctx)
	if !ok {
		return ErrNoProof
	}
	sig, ok := p.Signatures[addr]
	if !ok {
		return ErrNoProof
	}
	if err := validateKey(addr); err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature length %d", ErrBadSignature, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(addr.Bytes()), p.Payload(), sig) {
		return ErrBadSignature
	}
	if p.Expiration <= inv.Height() {
		return fmt.Errorf("%w: expiration %d, height %d", ErrProofExpired, p.Expiration, inv.Height())
	}
	if err := inv.ConsumeNonce(ctx, addr, p.Nonce); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("%w: %d", ErrNonceUsed, p.Nonce)
		}
		return err
	}
	return nil
}

// validateKey checks that addr decodes to a point on the edwards25519 curve.
func validateKey(addr domain.Address) error {
	if _, err := new(edwards25519.Point).SetBytes(addr.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// MockAll affirms every address. For tests and local demos only.
type MockAll struct{}

var _ token.Authorizer = MockAll{}

// RequireAuth implements token.Authorizer.
func (MockAll) RequireAuth(context.Context, token.Invocation, domain.Address) error {
	return nil
}

// Static affirms the signer set attached to the context with WithSigners.
type Static struct{}

var _ token.Authorizer = Static{}

// RequireAuth implements token.Authorizer.
func (Static) RequireAuth(ctx context.Context, _ token.Invocation, addr domain.Address) error {
	set, _ := ctx.Value(signersKey).(map[domain.Address]struct{})
	if _, ok := set[addr]; !ok {
		return ErrNoProof
	}
	return nil
}

// Payload builds the bytes signed for an invocation of op:
//
//	PayloadDomain \n op \n nonce \n expiration \n args
func Payload(op string, nonce uint64, expiration uint32, args []byte) []byte {
	out := make([]byte, 0, len(PayloadDomain)+len(op)+len(args)+32)
	out = append(out, PayloadDomain...)
	out = append(out, '\n')
	out = append(out, op...)
	out = append(out, '\n')
	out = strconv.AppendUint(out, nonce, 10)
	out = append(out, '\n')
	out = strconv.AppendUint(out, uint64(expiration), 10)
	out = append(out, '\n')
	return append(out, args...)
}
