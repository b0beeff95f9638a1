package credits

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInsufficientCredits is returned when a debit would drive the balance
	// negative. It is terminal for the current orchestration pass and never
	// auto-retried.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrBalanceNotFound is returned when no balance row exists for the owner
	ErrBalanceNotFound = errors.New("credit balance not found")
)

// DefaultBytesPerCredit is one credit per started 10 MiB
const DefaultBytesPerCredit = 10 * 1024 * 1024

// Pricing converts file sizes into credits. It is constructed once from
// config and passed into the components that need it.
type Pricing struct {
	BytesPerCredit int64
}

// NewPricing returns a Pricing, substituting the default unit for
// non-positive values.
func NewPricing(bytesPerCredit int64) Pricing {
	if bytesPerCredit <= 0 {
		bytesPerCredit = DefaultBytesPerCredit
	}
	return Pricing{BytesPerCredit: bytesPerCredit}
}

// Calculate returns the credits required for a file of the given size:
// ceil(size / BytesPerCredit), minimum 1 for any positive size, 0 for
// non-positive sizes.
func (p Pricing) Calculate(sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}

	unit := p.BytesPerCredit
	if unit <= 0 {
		unit = DefaultBytesPerCredit
	}

	return (sizeBytes + unit - 1) / unit
}

// TransactionType classifies ledger entries
type TransactionType string

const (
	TxDebit  TransactionType = "debit"
	TxRefund TransactionType = "refund"
	TxReset  TransactionType = "reset"
	TxGrant  TransactionType = "grant"
)

// Balance is the per-owner credit account
type Balance struct {
	Owner                 int64     `json:"owner" db:"owner_id"`
	CreditsRemaining      int64     `json:"credits_remaining" db:"credits_remaining"`
	CreditsUsedThisPeriod int64     `json:"credits_used_this_period" db:"credits_used_this_period"`
	PeriodStart           time.Time `json:"period_start" db:"period_start"`
	PeriodEnd             time.Time `json:"period_end" db:"period_end"`
	MonthlyAllotment      int64     `json:"monthly_allotment" db:"monthly_allotment"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is one append-only ledger entry. The amount is signed;
// balance_after = balance_before + amount always holds.
type Transaction struct {
	ID            int64           `json:"id" db:"id"`
	Owner         int64           `json:"owner" db:"owner_id"`
	VideoRef      string          `json:"video_ref,omitempty" db:"video_ref"`
	Type          TransactionType `json:"type" db:"type"`
	Amount        int64           `json:"amount" db:"amount"`
	BalanceBefore int64           `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64           `json:"balance_after" db:"balance_after"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
