package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's EDU balance. The balance is only ever mutated
// through BalanceService.Credit.
type Account struct {
	UserID     string          `json:"userId"`
	EduBalance decimal.Decimal `json:"eduBalance"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
