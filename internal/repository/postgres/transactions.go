package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	repo "github.com/orbitalapp/minutes-ledger/internal/repository"
)

const txnCols = `id, account_id, amount, balance_after, type, source, reference, metadata, created_at`

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.BalanceAfter, &t.Type,
		&t.Source, &t.Reference, &t.Metadata, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrTransactionNotFound
	}
	return t, err
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	created, err := scanTxn(u.tx.QueryRow(ctx,
		`INSERT INTO transactions (id, account_id, amount, balance_after, type, source, reference, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING `+txnCols,
		t.ID, t.AccountID, t.Amount, t.BalanceAfter, t.Type, t.Source, t.Reference, t.Metadata,
	))
	if err != nil && isUniqueViolation(err) {
		return models.Transaction{}, repo.ErrDuplicateReference
	}
	return created, err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return scanTxn(s.pool.QueryRow(ctx,
		`SELECT `+txnCols+` FROM transactions WHERE id=$1`, id))
}

func (s *Store) FindByReference(ctx context.Context, source, reference string, typ models.TransactionType) (models.Transaction, error) {
	return scanTxn(s.pool.QueryRow(ctx,
		`SELECT `+txnCols+` FROM transactions
		  WHERE source=$1 AND reference=$2 AND type=$3`,
		source, reference, typ))
}

func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txnCols+` FROM transactions
		  WHERE account_id=$1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SumAmounts(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id=$1`,
		accountID,
	).Scan(&sum)
	return sum, err
}
