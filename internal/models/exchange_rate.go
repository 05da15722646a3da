package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is the resolved PZO-per-EDU conversion rate for one
// reconciliation. Price is external units per one internal unit, so
// EDU = PZO / Price. Default is true when no admin config exists yet
// and the 1:1 fallback is in effect.
type ExchangeRate struct {
	Price       decimal.Decimal  `json:"price"`
	MinConvert  *decimal.Decimal `json:"minConvert,omitempty"`
	MaxConvert  *decimal.Decimal `json:"maxConvert,omitempty"`
	EffectiveAt time.Time        `json:"effectiveAt"`
	Default     bool             `json:"default"`
}
