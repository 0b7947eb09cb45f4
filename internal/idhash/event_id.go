package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event id using SHA256.
// Formula: SHA256(kind|sequence|height|from|to|amount|expiration_height)
// Absent addresses are encoded as empty strings.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(e *domain.Event) string {
	data := fmt.Sprintf("%s|%d|%d|%s|%s|%s|%d",
		string(e.Kind),
		e.Sequence,
		e.Height,
		addrString(e.From),
		addrString(e.To),
		e.Amount.String(),
		e.ExpirationHeight,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func addrString(a *domain.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}
