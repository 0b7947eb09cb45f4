package domain

// EventKind identifies what a ledger event records.
type EventKind string

const (
	EventMint               EventKind = "mint"
	EventBurn               EventKind = "burn"
	EventTransfer           EventKind = "transfer"
	EventApprove            EventKind = "approve"
	EventPaused             EventKind = "paused"
	EventUnpaused           EventKind = "unpaused"
	EventOwnershipTransfer  EventKind = "ownership_transfer"
	EventOwnershipRenounced EventKind = "ownership_renounced"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventMint, EventBurn, EventTransfer, EventApprove,
		EventPaused, EventUnpaused, EventOwnershipTransfer, EventOwnershipRenounced:
		return true
	}
	return false
}

// Event is a notification emitted after a committed state change.
// Corresponds to ledger_events table in ClickHouse.
//
// Field usage per kind:
//
//	mint                 To, Amount
//	burn                 From, Amount
//	transfer             From, To, Amount
//	approve              From (owner), To (spender), Amount, ExpirationHeight
//	paused, unpaused     From (caller)
//	ownership_transfer   From (previous owner), To (new owner)
//	ownership_renounced  From (previous owner)
type Event struct {
	ID               string    `json:"id"`                          // SHA256 over the payload, hex
	Kind             EventKind `json:"kind"`                        // event kind
	Sequence         uint64    `json:"sequence"`                    // position in the ledger's event log, starts at 1
	Height           uint32    `json:"height"`                      // ledger height at emission
	From             *Address  `json:"from,omitempty"`              // source / owner / caller (nullable)
	To               *Address  `json:"to,omitempty"`                // destination / spender / new owner (nullable)
	Amount           Amount    `json:"amount"`                      // zero for administrative events
	ExpirationHeight uint32    `json:"expiration_height,omitempty"` // approve only
	Timestamp        int64     `json:"timestamp"`                   // wall clock at emission (ms)
}

// AddrPtr returns a pointer to a copy of a.
func AddrPtr(a Address) *Address {
	return &a
}
