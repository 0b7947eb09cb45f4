package verification

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// ReplayVerifier compares the live ledger with state replayed from the archive.
type ReplayVerifier struct {
	events storage.EventStore
	ledger storage.LedgerStore
	logger zerolog.Logger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(events storage.EventStore, ledger storage.LedgerStore, logger zerolog.Logger) *ReplayVerifier {
	return &ReplayVerifier{events: events, ledger: ledger, logger: logger}
}

// Verify replays the full archive and compares balances, supply, the pause
// flag and (when derivable) the owner with the live ledger.
func (v *ReplayVerifier) Verify(ctx context.Context) (*Report, error) {
	last, err := v.events.LastSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive last sequence: %w", err)
	}

	var events []*domain.Event
	if last > 0 {
		events, err = v.events.GetBySequenceRange(ctx, 1, last)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
	}

	replayed, divs := Replay(events)

	err = v.ledger.View(ctx, func(r storage.LedgerReader) error {
		live, err := r.EventSequence(ctx)
		if err != nil {
			return err
		}
		if live != last {
			divs = append(divs, Divergence{
				Field:    "event_sequence",
				Expected: fmt.Sprintf("%d", live),
				Actual:   fmt.Sprintf("%d", last),
			})
		}

		supply, err := r.TotalSupply(ctx)
		if err != nil {
			return err
		}
		if supply.Cmp(replayed.TotalSupply) != 0 {
			divs = append(divs, Divergence{Field: "total_supply", Expected: supply.String(), Actual: replayed.TotalSupply.String()})
		}

		paused, err := r.Paused(ctx)
		if err != nil {
			return err
		}
		if paused != replayed.Paused {
			divs = append(divs, Divergence{Field: "paused", Expected: fmt.Sprint(paused), Actual: fmt.Sprint(replayed.Paused)})
		}

		if replayed.OwnerKnown {
			owner, err := r.Owner(ctx)
			if err != nil {
				return err
			}
			if addrString(owner) != addrString(replayed.Owner) {
				divs = append(divs, Divergence{Field: "owner", Expected: addrString(owner), Actual: addrString(replayed.Owner)})
			}
		}

		balances, err := r.Balances(ctx)
		if err != nil {
			return err
		}
		divs = append(divs, compareBalances(balances, replayed.Balances)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	report := &Report{
		EventsReplayed: len(events),
		LastSequence:   last,
		Holders:        len(replayed.Balances),
		Match:          len(divs) == 0,
		Divergences:    divs,
	}

	observability.UpdateVerifyDivergences(len(divs))
	v.logger.Info().
		Int("events", report.EventsReplayed).
		Uint64("last_seq", last).
		Int("divergences", len(divs)).
		Msg("replay verification finished")

	return report, nil
}

// compareBalances reports every holder whose live and replayed balances
// differ, in address order.
func compareBalances(live, replayed map[domain.Address]domain.Amount) []Divergence {
	holders := make(map[domain.Address]struct{}, len(live))
	for a := range live {
		holders[a] = struct{}{}
	}
	for a := range replayed {
		holders[a] = struct{}{}
	}

	keys := make([]domain.Address, 0, len(holders))
	for a := range holders {
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	var divs []Divergence
	for _, a := range keys {
		l, r := live[a], replayed[a]
		if l.Cmp(r) != 0 {
			divs = append(divs, Divergence{
				Field:    "balance:" + a.String(),
				Expected: l.String(),
				Actual:   r.String(),
			})
		}
	}
	return divs
}

func addrString(a *domain.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}
