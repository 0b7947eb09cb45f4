// Package events distributes committed ledger events: archiving, live
// websocket broadcast and subscription to a remote feed.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
	"token-ledger/internal/token"
)

// StoreSink archives events to a storage.EventStore. Events at or below the
// archive's last sequence are skipped, so redelivery is harmless.
type StoreSink struct {
	store  storage.EventStore
	logger zerolog.Logger
}

var _ token.Sink = (*StoreSink)(nil)

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store storage.EventStore, logger zerolog.Logger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

// Publish implements token.Sink.
func (s *StoreSink) Publish(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	last, err := s.store.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("last sequence: %w", err)
	}

	fresh := make([]*domain.Event, 0, len(events))
	for _, e := range events {
		if e.Sequence > last {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if fresh[0].Sequence != last+1 && last > 0 {
		s.logger.Warn().
			Uint64("last", last).
			Uint64("next", fresh[0].Sequence).
			Msg("gap in archived event sequence")
	}

	if err := s.store.InsertBulk(ctx, fresh); err != nil {
		return fmt.Errorf("archive %d events: %w", len(fresh), err)
	}
	observability.RecordEventsArchived(len(fresh), fresh[len(fresh)-1].Sequence)
	return nil
}

// Fanout publishes to every sink in order. All sinks are attempted; the
// returned error joins the failures.
type Fanout []token.Sink

var _ token.Sink = Fanout(nil)

// Publish implements token.Sink.
func (f Fanout) Publish(ctx context.Context, events []*domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
