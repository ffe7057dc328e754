package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnCredit      TransactionType = "credit"
	TxnDebit       TransactionType = "debit"
	TxnRefund      TransactionType = "refund"
	TxnAdjustment  TransactionType = "adjustment"
	TxnSignupBonus TransactionType = "signup_bonus"
)

// Transaction is one immutable entry in the append-only log. Amount is the
// signed delta applied to the balance (negative for debits), BalanceAfter the
// balance snapshot taken inside the same database transaction.
//
// (Source, Reference, Type) is the idempotency key for entries with a
// non-empty reference; a refund referencing the same external id as the
// original credit lives in its own namespace because Type differs.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Type         TransactionType `json:"type"`
	Source       string          `json:"source"`
	Reference    string          `json:"reference,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
