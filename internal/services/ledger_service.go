package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/metrics"
	"github.com/orbitalapp/minutes-ledger/internal/models"
	repo "github.com/orbitalapp/minutes-ledger/internal/repository"
)

// Result is what every balance mutation returns. Amount is the signed delta
// as stored in the transaction log (negative for debits), so an idempotent
// replay carries exactly the same values as the original call.
type Result struct {
	TransactionID   string          `json:"transaction_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Amount          decimal.Decimal `json:"amount"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Idempotent      bool            `json:"idempotent"`
}

// Alerter receives ops alerts for failures that need a human.
type Alerter interface {
	Critical(title string, fields map[string]string)
}

// LedgerService owns every balance mutation. There is no other write path to
// accounts or transactions anywhere in the system.
type LedgerService struct {
	store repo.Store
	alert Alerter
}

func NewLedgerService(store repo.Store, alert Alerter) *LedgerService {
	return &LedgerService{store: store, alert: alert}
}

// Credit adds minutes to an account. A non-empty reference makes the call
// idempotent per (source, reference, "credit").
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount decimal.Decimal, source, reference string, metadata map[string]any) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, errInvalidAmount("amount must be positive")
	}
	return s.apply(ctx, accountID, amount, models.TxnCredit, source, reference, metadata)
}

// Debit removes minutes. Rejected with InsufficientBalance, mutating nothing,
// when the locked balance is below the requested amount.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount decimal.Decimal, source, reference string, metadata map[string]any) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, errInvalidAmount("amount must be positive")
	}
	return s.apply(ctx, accountID, amount.Neg(), models.TxnDebit, source, reference, metadata)
}

// Refund credits minutes back under its own idempotency namespace, so a
// refund may reuse the reference of the transaction it compensates.
func (s *LedgerService) Refund(ctx context.Context, accountID string, amount decimal.Decimal, source, reference string, metadata map[string]any) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, errInvalidAmount("amount must be positive")
	}
	return s.apply(ctx, accountID, amount, models.TxnRefund, source, reference, metadata)
}

// Adjust applies a signed correction. Negative adjustments pass the same
// insufficient-balance gate as debits; there is no overdraft path.
func (s *LedgerService) Adjust(ctx context.Context, accountID string, amount decimal.Decimal, source, reference string, metadata map[string]any) (Result, error) {
	if amount.IsZero() {
		return Result{}, errInvalidAmount("amount must be non-zero")
	}
	return s.apply(ctx, accountID, amount, models.TxnAdjustment, source, reference, metadata)
}

// SignupBonus grants the provisioning bonus, keyed on the account id itself
// so provisioning replays cannot double-grant.
func (s *LedgerService) SignupBonus(ctx context.Context, accountID string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, errInvalidAmount("amount must be positive")
	}
	return s.apply(ctx, accountID, amount, models.TxnSignupBonus, "signup", accountID, nil)
}

func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, repo.ErrAccountNotFound) {
		return decimal.Zero, errAccountNotFound(accountID)
	}
	if err != nil {
		return decimal.Zero, errInternal(err)
	}
	return a.Balance, nil
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// GetHistory returns the account's transactions newest first. New entries
// appear at the head on subsequent calls; past entries never reorder.
func (s *LedgerService) GetHistory(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	txns, err := s.store.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, errInternal(err)
	}
	return txns, nil
}

// apply is the single mutation path: idempotency pre-check, then one atomic
// unit of lock → validate → append transaction → write balance. The pre-check
// is only an optimization; the storage uniqueness constraint is what actually
// prevents two racing duplicates from both committing.
func (s *LedgerService) apply(ctx context.Context, accountID string, delta decimal.Decimal, typ models.TransactionType, source, reference string, metadata map[string]any) (Result, error) {
	if reference != "" {
		existing, err := s.store.FindByReference(ctx, source, reference, typ)
		if err == nil {
			return s.replayed(typ, existing), nil
		}
		if !errors.Is(err, repo.ErrTransactionNotFound) {
			return Result{}, s.internal(typ, err)
		}
	}

	var res Result
	err := s.store.WithTx(ctx, func(u repo.UnitOfWork) error {
		acct, err := u.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if delta.IsNegative() && acct.Balance.LessThan(delta.Neg()) {
			return errInsufficientBalance(acct.Balance, delta.Neg())
		}
		txn, err := u.InsertTransaction(ctx, models.Transaction{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			Amount:       delta,
			BalanceAfter: acct.Balance.Add(delta),
			Type:         typ,
			Source:       source,
			Reference:    reference,
			Metadata:     metadata,
		})
		if err != nil {
			return err
		}
		updated, err := u.ApplyDelta(ctx, accountID, delta)
		if err != nil {
			return err
		}
		res = Result{
			TransactionID:   txn.ID,
			PreviousBalance: acct.Balance,
			Amount:          delta,
			NewBalance:      updated.Balance,
		}
		return nil
	})

	switch {
	case err == nil:
		metrics.LedgerOperations.WithLabelValues(string(typ), "applied").Inc()
		slog.Info("ledger mutation applied",
			"type", typ, "account_id", accountID, "source", source,
			"amount", delta, "new_balance", res.NewBalance)
		return res, nil

	case errors.Is(err, repo.ErrDuplicateReference):
		// A concurrent duplicate won the race. Our insert waited on its lock,
		// so by now the winner is committed and readable.
		existing, ferr := s.store.FindByReference(ctx, source, reference, typ)
		if ferr != nil {
			return Result{}, s.internal(typ, ferr)
		}
		return s.replayed(typ, existing), nil

	case errors.Is(err, repo.ErrAccountNotFound):
		metrics.LedgerOperations.WithLabelValues(string(typ), "rejected").Inc()
		return Result{}, errAccountNotFound(accountID)

	default:
		var lerr *Error
		if errors.As(err, &lerr) {
			metrics.LedgerOperations.WithLabelValues(string(typ), "rejected").Inc()
			if lerr.Code == CodeInsufficientBalance {
				slog.Info("debit rejected, insufficient balance",
					"account_id", accountID, "requested", lerr.Requested, "balance", lerr.Balance)
			}
			return Result{}, lerr
		}
		return Result{}, s.internal(typ, err)
	}
}

func (s *LedgerService) replayed(typ models.TransactionType, t models.Transaction) Result {
	metrics.LedgerOperations.WithLabelValues(string(typ), "idempotent").Inc()
	return Result{
		TransactionID:   t.ID,
		PreviousBalance: t.BalanceAfter.Sub(t.Amount),
		Amount:          t.Amount,
		NewBalance:      t.BalanceAfter,
		Idempotent:      true,
	}
}

func (s *LedgerService) internal(typ models.TransactionType, err error) *Error {
	metrics.LedgerOperations.WithLabelValues(string(typ), "error").Inc()
	slog.Error("ledger mutation failed", "type", typ, "err", err)
	if s.alert != nil {
		s.alert.Critical("ledger mutation failed", map[string]string{
			"type": string(typ), "error": err.Error(),
		})
	}
	return errInternal(err)
}
