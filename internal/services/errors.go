package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type ErrorCode string

const (
	CodeInvalidAmount       ErrorCode = "invalid_amount"
	CodeAccountNotFound     ErrorCode = "account_not_found"
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeInternal            ErrorCode = "internal"
)

// Error is the coded failure of a ledger operation. InsufficientBalance
// carries the current balance and the requested amount so callers can render
// a precise message; it is an expected business outcome, not a system fault.
type Error struct {
	Code      ErrorCode
	Message   string
	Balance   decimal.Decimal
	Requested decimal.Decimal
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func errInvalidAmount(msg string) *Error {
	return &Error{Code: CodeInvalidAmount, Message: msg}
}

func errAccountNotFound(id string) *Error {
	return &Error{Code: CodeAccountNotFound, Message: "account " + id + " not found"}
}

func errInsufficientBalance(balance, requested decimal.Decimal) *Error {
	return &Error{
		Code:      CodeInsufficientBalance,
		Message:   fmt.Sprintf("insufficient balance: have %s, need %s", balance, requested),
		Balance:   balance,
		Requested: requested,
	}
}

func errInternal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "ledger operation failed", cause: cause}
}
