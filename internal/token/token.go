// Package token implements the fungible token ledger: balances, allowances,
// supply, owner-gated administration and the pause guard, composed behind
// the Token facade.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// Token is the public operations facade. Every mutating operation runs
// authorization, the pause check and the ledger mutation inside one storage
// transaction, then publishes the resulting events once it has committed.
type Token struct {
	store   storage.LedgerStore
	auth    Authorizer
	heights HeightSource
	sink    Sink
	logger  zerolog.Logger
	now     func() time.Time

	metadata   MetadataStore
	balances   Balances
	allowances Allowances
	ownable    Ownable
	pausable   Pausable

	// mu serializes mutations. pubMu is taken before mu is released so
	// sinks receive batches in commit order.
	mu    sync.Mutex
	pubMu sync.Mutex
}

// Option configures Token.
type Option func(*Token)

// WithSink sets the sink that receives committed events.
func WithSink(s Sink) Option {
	return func(t *Token) {
		t.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Token) {
		t.logger = l
	}
}

// WithClock sets the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Token) {
		t.now = now
	}
}

// New creates a Token over store. auth verifies identities and heights
// supplies the ledger height for allowance expiry.
func New(store storage.LedgerStore, auth Authorizer, heights HeightSource, opts ...Option) *Token {
	t := &Token{
		store:   store,
		auth:    auth,
		heights: heights,
		logger:  zerolog.Nop(),
		now:     time.Now,
		ownable: NewOwnable(auth),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Deploy initializes metadata and the owner. It fails with
// storage.ErrDuplicateKey if the ledger was already deployed.
func (t *Token) Deploy(ctx context.Context, owner domain.Address, meta domain.Metadata) error {
	if owner.IsZero() {
		return fmt.Errorf("deploy: %w", domain.ErrInvalidAddress)
	}
	if meta.CreatedAt == 0 {
		meta.CreatedAt = t.now().UnixMilli()
	}
	return t.execute(ctx, "deploy", func(ctx context.Context, tx *Tx) error {
		if err := t.metadata.Set(ctx, tx, meta); err != nil {
			return err
		}
		return t.ownable.SetOwner(ctx, tx, owner)
	})
}

// Name returns the token name.
func (t *Token) Name(ctx context.Context) (string, error) {
	m, err := t.Metadata(ctx)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

// Symbol returns the token symbol.
func (t *Token) Symbol(ctx context.Context) (string, error) {
	m, err := t.Metadata(ctx)
	if err != nil {
		return "", err
	}
	return m.Symbol, nil
}

// Decimals returns the display precision.
func (t *Token) Decimals(ctx context.Context) (uint32, error) {
	m, err := t.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return m.Decimals, nil
}

// Metadata returns all token metadata.
func (t *Token) Metadata(ctx context.Context) (*domain.Metadata, error) {
	var m *domain.Metadata
	err := t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		m, err = t.metadata.Get(ctx, r)
		return err
	})
	return m, err
}

// TotalSupply returns the aggregate supply.
func (t *Token) TotalSupply(ctx context.Context) (domain.Amount, error) {
	var supply domain.Amount
	err := t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		supply, err = t.balances.TotalSupply(ctx, r)
		return err
	})
	return supply, err
}

// BalanceOf returns the holder's balance.
func (t *Token) BalanceOf(ctx context.Context, holder domain.Address) (domain.Amount, error) {
	var balance domain.Amount
	err := t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		balance, err = t.balances.BalanceOf(ctx, r, holder)
		return err
	})
	return balance, err
}

// Allowance returns the live allowance of spender over owner's funds.
func (t *Token) Allowance(ctx context.Context, owner, spender domain.Address) (domain.Amount, error) {
	height, err := t.heights.CurrentHeight(ctx)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("current height: %w", err)
	}

	var amount domain.Amount
	err = t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		amount, err = t.allowances.Allowance(ctx, r, height, owner, spender)
		return err
	})
	return amount, err
}

// Paused reports whether the pause guard is engaged.
func (t *Token) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		paused, err = t.pausable.Paused(ctx, r)
		return err
	})
	return paused, err
}

// GetOwner returns the owner, nil once renounced.
func (t *Token) GetOwner(ctx context.Context) (*domain.Address, error) {
	var owner *domain.Address
	err := t.store.View(ctx, func(r storage.LedgerReader) error {
		var err error
		owner, err = t.ownable.Owner(ctx, r)
		return err
	})
	return owner, err
}

// Transfer moves amount from from to to. Requires authorization for from.
func (t *Token) Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error {
	return t.execute(ctx, "transfer", func(ctx context.Context, tx *Tx) error {
		if err := authorize(ctx, t.auth, tx, from); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		return t.balances.Transfer(ctx, tx, from, to, amount)
	})
}

// TransferFrom moves amount from from to to using spender's allowance.
// Requires authorization for spender.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to domain.Address, amount domain.Amount) error {
	return t.execute(ctx, "transfer_from", func(ctx context.Context, tx *Tx) error {
		if err := authorize(ctx, t.auth, tx, spender); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		if err := t.allowances.SpendAllowance(ctx, tx, from, spender, amount); err != nil {
			return err
		}
		return t.balances.Transfer(ctx, tx, from, to, amount)
	})
}

// Approve sets spender's allowance over owner's funds. Requires authorization for owner.
func (t *Token) Approve(ctx context.Context, owner, spender domain.Address, amount domain.Amount, expirationHeight uint32) error {
	return t.execute(ctx, "approve", func(ctx context.Context, tx *Tx) error {
		if err := authorize(ctx, t.auth, tx, owner); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		return t.allowances.Approve(ctx, tx, owner, spender, amount, expirationHeight)
	})
}

// Mint creates amount for account. Owner-only.
func (t *Token) Mint(ctx context.Context, account domain.Address, amount domain.Amount) error {
	return t.execute(ctx, "mint", func(ctx context.Context, tx *Tx) error {
		if _, err := t.ownable.RequireOwner(ctx, tx); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		return t.balances.Mint(ctx, tx, account, amount)
	})
}

// Burn destroys amount of from's balance. Requires authorization for from.
func (t *Token) Burn(ctx context.Context, from domain.Address, amount domain.Amount) error {
	return t.execute(ctx, "burn", func(ctx context.Context, tx *Tx) error {
		if err := authorize(ctx, t.auth, tx, from); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		return t.balances.Burn(ctx, tx, from, amount)
	})
}

// BurnFrom destroys amount of from's balance using spender's allowance.
// Requires authorization for spender.
func (t *Token) BurnFrom(ctx context.Context, spender, from domain.Address, amount domain.Amount) error {
	return t.execute(ctx, "burn_from", func(ctx context.Context, tx *Tx) error {
		if err := authorize(ctx, t.auth, tx, spender); err != nil {
			return err
		}
		if err := t.pausable.RequireNotPaused(ctx, tx); err != nil {
			return err
		}
		if err := t.allowances.SpendAllowance(ctx, tx, from, spender, amount); err != nil {
			return err
		}
		return t.balances.Burn(ctx, tx, from, amount)
	})
}

// Pause engages the pause guard. caller must be the owner.
func (t *Token) Pause(ctx context.Context, caller domain.Address) error {
	return t.execute(ctx, "pause", func(ctx context.Context, tx *Tx) error {
		if err := t.ownable.OnlyOwner(ctx, tx, caller); err != nil {
			return err
		}
		return t.pausable.Pause(ctx, tx, caller)
	})
}

// Unpause releases the pause guard. caller must be the owner.
func (t *Token) Unpause(ctx context.Context, caller domain.Address) error {
	return t.execute(ctx, "unpause", func(ctx context.Context, tx *Tx) error {
		if err := t.ownable.OnlyOwner(ctx, tx, caller); err != nil {
			return err
		}
		return t.pausable.Unpause(ctx, tx, caller)
	})
}

// TransferOwnership hands ownership to newOwner. Owner-only; not pause-gated.
func (t *Token) TransferOwnership(ctx context.Context, newOwner domain.Address) error {
	if newOwner.IsZero() {
		return fmt.Errorf("transfer ownership: %w", domain.ErrInvalidAddress)
	}
	return t.execute(ctx, "transfer_ownership", func(ctx context.Context, tx *Tx) error {
		owner, err := t.ownable.RequireOwner(ctx, tx)
		if err != nil {
			return err
		}
		return t.ownable.TransferOwnership(ctx, tx, owner, newOwner)
	})
}

// RenounceOwnership clears the owner permanently. Owner-only; not pause-gated.
func (t *Token) RenounceOwnership(ctx context.Context) error {
	return t.execute(ctx, "renounce_ownership", func(ctx context.Context, tx *Tx) error {
		owner, err := t.ownable.RequireOwner(ctx, tx)
		if err != nil {
			return err
		}
		return t.ownable.RenounceOwnership(ctx, tx, owner)
	})
}

// execute runs fn in a storage transaction at the current height and
// publishes its events after commit.
func (t *Token) execute(ctx context.Context, op string, fn func(ctx context.Context, tx *Tx) error) error {
	start := time.Now()

	t.mu.Lock()
	events, height, err := t.commit(ctx, fn)
	if err != nil {
		t.mu.Unlock()
		observability.RecordOperation(op, ErrorCode(err), time.Since(start).Seconds())
		t.logger.Debug().Err(err).Str("op", op).Msg("operation rejected")
		return err
	}
	t.pubMu.Lock()
	t.mu.Unlock()

	observability.RecordOperation(op, CodeSuccess, time.Since(start).Seconds())
	t.logger.Debug().
		Str("op", op).
		Uint32("height", height).
		Int("events", len(events)).
		Msg("operation committed")

	t.publish(ctx, events)
	t.pubMu.Unlock()
	return nil
}

func (t *Token) commit(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) ([]*domain.Event, uint32, error) {
	height, err := t.heights.CurrentHeight(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("current height: %w", err)
	}

	var (
		events []*domain.Event
		supply domain.Amount
		paused bool
	)
	err = t.store.Update(ctx, func(ltx storage.LedgerTx) error {
		tx := NewTx(ltx, height, t.now)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		events = tx.Events()

		var err error
		if supply, err = tx.TotalSupply(ctx); err != nil {
			return err
		}
		paused, err = tx.Paused(ctx)
		return err
	})
	if err != nil {
		return nil, height, err
	}

	supplyF, _ := new(big.Float).SetInt(supply.Big()).Float64()
	observability.UpdateLedgerState(supplyF, height, paused)
	return events, height, nil
}

// publish hands committed events to the sink. Sink failures cannot undo the
// commit; they are logged and counted.
func (t *Token) publish(ctx context.Context, events []*domain.Event) {
	if t.sink == nil || len(events) == 0 {
		return
	}
	if err := t.sink.Publish(context.WithoutCancel(ctx), events); err != nil {
		observability.RecordSinkError("ledger")
		t.logger.Error().Err(err).
			Uint64("first_seq", events[0].Sequence).
			Int("events", len(events)).
			Msg("publish events")
		return
	}
	observability.RecordEventsPublished(len(events))
}
