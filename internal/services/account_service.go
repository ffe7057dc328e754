package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	repo "github.com/orbitalapp/minutes-ledger/internal/repository"
)

// AccountService provisions balance rows for identities created by the
// external identity provider and runs audit reconciliation.
type AccountService struct {
	store       repo.Store
	ledger      *LedgerService
	signupBonus decimal.Decimal
}

func NewAccountService(store repo.Store, ledger *LedgerService, signupBonus decimal.Decimal) *AccountService {
	return &AccountService{store: store, ledger: ledger, signupBonus: signupBonus}
}

// Provision creates the account row if missing and grants the signup bonus
// through the normal credit path. Replays are harmless: the row create is a
// no-op and the bonus is idempotent by account id.
func (s *AccountService) Provision(ctx context.Context, accountID string) (models.Account, error) {
	if _, err := s.store.GetOrCreateAccount(ctx, accountID); err != nil {
		return models.Account{}, errInternal(err)
	}
	if s.signupBonus.IsPositive() {
		if _, err := s.ledger.SignupBonus(ctx, accountID, s.signupBonus); err != nil {
			return models.Account{}, err
		}
	}
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, errInternal(err)
	}
	slog.Info("account provisioned", "account_id", accountID, "balance", a.Balance)
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, accountID string) (models.Account, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, repo.ErrAccountNotFound) {
		return models.Account{}, errAccountNotFound(accountID)
	}
	if err != nil {
		return models.Account{}, errInternal(err)
	}
	return a, nil
}

// ReconcileReport compares the stored balance against two independent
// derivations: the replayed transaction log and the lifetime counters.
type ReconcileReport struct {
	AccountID     string          `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerSum     decimal.Decimal `json:"ledger_sum"`
	CounterNet    decimal.Decimal `json:"counter_net"`
	Drift         decimal.Decimal `json:"drift"`
	Balanced      bool            `json:"balanced"`
	TotalCredited decimal.Decimal `json:"total_credited"`
	TotalDebited  decimal.Decimal `json:"total_debited"`
}

// Reconcile replays the log for one account. Drift other than zero means a
// mutation bypassed the atomic path and needs investigation.
func (s *AccountService) Reconcile(ctx context.Context, accountID string) (ReconcileReport, error) {
	a, err := s.Get(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, err
	}
	sum, err := s.store.SumAmounts(ctx, accountID)
	if err != nil {
		return ReconcileReport{}, errInternal(err)
	}
	drift := a.Balance.Sub(sum)
	return ReconcileReport{
		AccountID:     accountID,
		Balance:       a.Balance,
		LedgerSum:     sum,
		CounterNet:    a.TotalCredited.Sub(a.TotalDebited),
		Drift:         drift,
		Balanced:      drift.IsZero(),
		TotalCredited: a.TotalCredited,
		TotalDebited:  a.TotalDebited,
	}, nil
}
