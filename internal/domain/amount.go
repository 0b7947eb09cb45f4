package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidAmount is returned for negative or unrepresentable amount inputs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountOverflow is returned when arithmetic exceeds MaxAmount.
	ErrAmountOverflow = errors.New("amount overflow")
)

// maxAmount is 2^128 - 1.
var maxAmount = new(uint256.Int).Sub(
	new(uint256.Int).Lsh(uint256.NewInt(1), 128),
	uint256.NewInt(1),
)

// Amount is an unsigned 128-bit token quantity.
// The zero value is a valid zero amount.
type Amount struct {
	v uint256.Int
}

// MaxAmount returns the largest representable amount.
func MaxAmount() Amount {
	return Amount{v: *maxAmount}
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// AmountFromBig converts a signed integer. Negative values and values above
// MaxAmount fail with ErrInvalidAmount.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, b.String())
	}
	v, overflow := uint256.FromBig(b)
	if overflow || v.Gt(maxAmount) {
		return Amount{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrInvalidAmount, b.String())
	}
	return Amount{v: *v}, nil
}

// ParseAmount parses a base-10 string. A leading minus sign fails with ErrInvalidAmount.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		b, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		if b.Sign() == 0 {
			return Amount{}, nil
		}
		return AmountFromBig(b)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if v.Gt(maxAmount) {
		return Amount{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrInvalidAmount, s)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount that panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b, or ErrAmountOverflow if the sum exceeds MaxAmount.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.Gt(maxAmount) {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// Sub returns a-b. ok is false when b > a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, false
	}
	return out, true
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.v.Lt(&b.v)
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Big returns a as a big.Int.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// String returns the base-10 form.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalText encodes the amount as a decimal string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
