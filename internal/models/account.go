package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the single balance row for one identity. The id is owned by the
// external identity provider; the ledger never mints ids of its own.
type Account struct {
	ID            string          `json:"id"`
	Balance       decimal.Decimal `json:"balance"`
	TotalCredited decimal.Decimal `json:"total_credited"`
	TotalDebited  decimal.Decimal `json:"total_debited"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
