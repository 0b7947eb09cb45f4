package domain

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func TestParseAddress(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encoded := base58.Encode(pub)

	addr, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.String() != encoded {
		t.Errorf("expected %s, got %s", encoded, addr.String())
	}
	if !addr.IsOnCurve() {
		t.Error("ed25519 public key should be on curve")
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base58", "0OIl"},
		{"too short", base58.Encode([]byte{1, 2, 3})},
		{"zero address", base58.Encode(make([]byte, AddressLength))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.input)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("expected ErrInvalidAddress, got %v", err)
			}
		})
	}
}

func TestAllowance_LiveAt(t *testing.T) {
	a := Allowance{Amount: NewAmount(5), ExpirationHeight: 100}

	if !a.LiveAt(99) {
		t.Error("allowance should be live below expiration")
	}
	if a.LiveAt(100) {
		t.Error("allowance should be void at expiration height")
	}
	if a.LiveAt(101) {
		t.Error("allowance should be void past expiration height")
	}
}
