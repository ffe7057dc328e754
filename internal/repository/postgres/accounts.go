package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	repo "github.com/orbitalapp/minutes-ledger/internal/repository"
)

const accountCols = `id, balance, total_credited, total_debited, updated_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Balance, &a.TotalCredited, &a.TotalDebited, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, repo.ErrAccountNotFound
	}
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id=$1`, id))
}

func (s *Store) GetOrCreateAccount(ctx context.Context, id string) (models.Account, error) {
	if a, err := s.GetAccount(ctx, id); err == nil {
		return a, nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts(id, balance, total_credited, total_debited, updated_at)
		 VALUES($1, 0, 0, 0, now())
		 ON CONFLICT (id) DO NOTHING`,
		id,
	)
	if err != nil {
		return models.Account{}, err
	}
	return s.GetAccount(ctx, id)
}

func (u *unitOfWork) LockAccount(ctx context.Context, id string) (models.Account, error) {
	return scanAccount(u.tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

func (u *unitOfWork) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (models.Account, error) {
	return scanAccount(u.tx.QueryRow(ctx,
		`UPDATE accounts
		    SET balance        = balance + $2,
		        total_credited = total_credited + GREATEST($2, 0),
		        total_debited  = total_debited  + GREATEST(-$2, 0),
		        updated_at     = now()
		  WHERE id = $1
		  RETURNING `+accountCols,
		id, delta,
	))
}
