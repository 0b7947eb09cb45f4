// Package chain provides ledger height sources.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"token-ledger/internal/token"
)

// ErrHeightDecrease is returned when a height source would move backwards.
var ErrHeightDecrease = errors.New("height must not decrease")

// Counter is an in-process monotonic height counter.
type Counter struct {
	mu sync.RWMutex
	h  uint32
}

var _ token.HeightSource = (*Counter)(nil)

// NewCounter creates a counter starting at h.
func NewCounter(h uint32) *Counter {
	return &Counter{h: h}
}

// CurrentHeight implements token.HeightSource.
func (c *Counter) CurrentHeight(context.Context) (uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.h, nil
}

// Advance moves the height forward by n and returns the new height.
func (c *Counter) Advance(n uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.h+n < c.h {
		return c.h, fmt.Errorf("advance %d from %d: height overflow", n, c.h)
	}
	c.h += n
	return c.h, nil
}

// Set moves the height to h. Decreases fail with ErrHeightDecrease.
func (c *Counter) Set(h uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h < c.h {
		return fmt.Errorf("%w: %d -> %d", ErrHeightDecrease, c.h, h)
	}
	c.h = h
	return nil
}
