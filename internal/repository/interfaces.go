package repository

import (
	"context"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// UnitOfWork is the view of the store inside one atomic mutation. Everything
// done through it commits together or not at all.
type UnitOfWork interface {
	// LockAccount acquires the exclusive row lock for the account and returns
	// its current state. Blocks until a concurrent writer on the same account
	// releases the lock; ErrAccountNotFound is terminal.
	LockAccount(ctx context.Context, id string) (models.Account, error)

	// ApplyDelta adds the signed delta to the balance and bumps the lifetime
	// counters. Callers must hold the row lock via LockAccount first.
	ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (models.Account, error)

	// InsertTransaction appends to the log. Returns ErrDuplicateReference when
	// the (source, reference, type) uniqueness constraint fires.
	InsertTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error)
}

type Store interface {
	// GetOrCreateAccount provisions the balance row if missing. Safe to replay.
	GetOrCreateAccount(ctx context.Context, id string) (models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)

	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	FindByReference(ctx context.Context, source, reference string, typ models.TransactionType) (models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error)

	// SumAmounts replays the log: Σ amount over all committed transactions of
	// the account. Used for reconciliation against the stored balance.
	SumAmounts(ctx context.Context, accountID string) (decimal.Decimal, error)

	// WithTx runs fn inside one database transaction; an error from fn rolls
	// everything back.
	WithTx(ctx context.Context, fn func(UnitOfWork) error) error
}
