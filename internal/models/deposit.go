package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit lifecycle states. A tx hash has at most one CONFIRMED record, ever.
const (
	DepositPending   = "PENDING"
	DepositConfirmed = "CONFIRMED"
	DepositFailed    = "FAILED"
)

// Entry points that may process a deposit.
const (
	EntryPointSession = "session"
	EntryPointPublic  = "public"
	EntryPointAdmin   = "admin"
)

// Deposit is the ledger record for one external PZO transaction,
// keyed uniquely on the chain transaction hash.
type Deposit struct {
	ID               string           `json:"id"`
	TxHash           string           `json:"txHash" example:"0xabc123"`
	UserID           string           `json:"userId"`
	PzoAmount        decimal.Decimal  `json:"pzoAmount"`
	EduAmount        *decimal.Decimal `json:"eduAmount,omitempty"` // set on confirmation
	ExchangeRate     *decimal.Decimal `json:"exchangeRate,omitempty"`
	Status           string           `json:"status" example:"CONFIRMED"`
	ProcessedBy      string           `json:"processedBy" example:"session"`
	FailureReason    string           `json:"failureReason,omitempty"`
	ReservationToken string           `json:"-"`
	ProcessedAt      *time.Time       `json:"processedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
