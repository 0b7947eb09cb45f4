package domain

// Metadata describes the token. Written once when the ledger is deployed.
// Corresponds to token_metadata table in PostgreSQL.
type Metadata struct {
	Decimals  uint32 `json:"decimals"`   // display precision
	Name      string `json:"name"`       // human-readable name
	Symbol    string `json:"symbol"`     // ticker
	CreatedAt int64  `json:"created_at"` // record creation timestamp (ms)
}

// Default metadata used when deploying without explicit configuration.
const (
	DefaultDecimals = 18
	DefaultName     = "Aura Coin"
	DefaultSymbol   = "AURA"
)

// Allowance is a spending permission granted by an owner to a spender.
// Corresponds to allowances table in PostgreSQL.
type Allowance struct {
	Amount           Amount `json:"amount"`            // remaining spendable amount
	ExpirationHeight uint32 `json:"expiration_height"` // first height at which the allowance is void
}

// LiveAt reports whether the allowance is usable at the given height.
func (a Allowance) LiveAt(height uint32) bool {
	return a.ExpirationHeight > height
}
