// Package verification rebuilds ledger state from the archived event log and
// compares it with the live ledger.
package verification

import (
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
)

// Divergence represents a mismatch between live and replayed values.
type Divergence struct {
	Field    string `json:"field"`    // what diverged, e.g. "balance:<addr>"
	Expected string `json:"expected"` // live ledger value
	Actual   string `json:"actual"`   // replayed value
}

// Report contains the result of one verification run.
type Report struct {
	EventsReplayed int          `json:"events_replayed"`
	LastSequence   uint64       `json:"last_sequence"`
	Holders        int          `json:"holders"`
	Match          bool         `json:"match"`
	Divergences    []Divergence `json:"divergences,omitempty"`
}

// State is ledger state rebuilt from events.
type State struct {
	Balances    map[domain.Address]domain.Amount
	TotalSupply domain.Amount
	Paused      bool
	// Owner is meaningful only when OwnerKnown; the deploy-time owner
	// is not carried by any event.
	Owner      *domain.Address
	OwnerKnown bool
	LastSeq    uint64
}

// Replay applies events in order to an empty state. Integrity problems in the
// log itself (gaps, bad ids, impossible debits) are returned as divergences.
func Replay(events []*domain.Event) (*State, []Divergence) {
	s := &State{Balances: make(map[domain.Address]domain.Amount)}
	var divs []Divergence

	for _, e := range events {
		if e.Sequence != s.LastSeq+1 {
			divs = append(divs, Divergence{
				Field:    "sequence",
				Expected: fmt.Sprintf("%d", s.LastSeq+1),
				Actual:   fmt.Sprintf("%d", e.Sequence),
			})
		}
		s.LastSeq = e.Sequence

		if id := idhash.ComputeEventID(e); id != e.ID {
			divs = append(divs, Divergence{
				Field:    fmt.Sprintf("id:%d", e.Sequence),
				Expected: e.ID,
				Actual:   id,
			})
		}

		if err := s.apply(e); err != nil {
			divs = append(divs, Divergence{
				Field:    fmt.Sprintf("event:%d", e.Sequence),
				Expected: "applicable",
				Actual:   err.Error(),
			})
		}
	}
	return s, divs
}

func (s *State) apply(e *domain.Event) error {
	switch e.Kind {
	case domain.EventMint:
		if e.To == nil {
			return fmt.Errorf("mint without recipient")
		}
		if err := s.credit(*e.To, e.Amount); err != nil {
			return err
		}
		supply, err := s.TotalSupply.Add(e.Amount)
		if err != nil {
			return fmt.Errorf("supply: %w", err)
		}
		s.TotalSupply = supply

	case domain.EventBurn:
		if e.From == nil {
			return fmt.Errorf("burn without holder")
		}
		if err := s.debit(*e.From, e.Amount); err != nil {
			return err
		}
		supply, ok := s.TotalSupply.Sub(e.Amount)
		if !ok {
			return fmt.Errorf("burn %s exceeds supply %s", e.Amount, s.TotalSupply)
		}
		s.TotalSupply = supply

	case domain.EventTransfer:
		if e.From == nil || e.To == nil {
			return fmt.Errorf("transfer without endpoints")
		}
		if err := s.debit(*e.From, e.Amount); err != nil {
			return err
		}
		return s.credit(*e.To, e.Amount)

	case domain.EventPaused:
		s.Paused = true

	case domain.EventUnpaused:
		s.Paused = false

	case domain.EventOwnershipTransfer:
		s.Owner = e.To
		s.OwnerKnown = true

	case domain.EventOwnershipRenounced:
		s.Owner = nil
		s.OwnerKnown = true

	case domain.EventApprove:
		// Allowance spends emit no event, so allowances are not rebuilt.

	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

func (s *State) credit(holder domain.Address, amount domain.Amount) error {
	b, err := s.Balances[holder].Add(amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", holder, err)
	}
	s.set(holder, b)
	return nil
}

func (s *State) debit(holder domain.Address, amount domain.Amount) error {
	b, ok := s.Balances[holder].Sub(amount)
	if !ok {
		return fmt.Errorf("debit %s: balance %s below %s", holder, s.Balances[holder], amount)
	}
	s.set(holder, b)
	return nil
}

func (s *State) set(holder domain.Address, b domain.Amount) {
	if b.IsZero() {
		delete(s.Balances, holder)
		return
	}
	s.Balances[holder] = b
}
