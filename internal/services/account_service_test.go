package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalapp/minutes-ledger/internal/repository/memory"
)

func TestProvisionGrantsBonusOnce(t *testing.T) {
	store := memory.New()
	ledger := NewLedgerService(store, nil)
	accounts := NewAccountService(store, ledger, dec("3"))
	ctx := context.Background()

	a, err := accounts.Provision(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("3")))

	// Identity providers redeliver; the bonus must not double-grant.
	a, err = accounts.Provision(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("3")))

	history, err := ledger.GetHistory(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProvisionWithoutBonus(t *testing.T) {
	store := memory.New()
	ledger := NewLedgerService(store, nil)
	accounts := NewAccountService(store, ledger, decimal.Zero)

	a, err := accounts.Provision(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
}

func TestReconcileBalancedAccount(t *testing.T) {
	store := memory.New()
	ledger := NewLedgerService(store, nil)
	accounts := NewAccountService(store, ledger, decimal.Zero)
	ctx := context.Background()

	_, err := accounts.Provision(ctx, "acct-1")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, "acct-1", dec("10"), "stripe", "sess_1", nil)
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, "acct-1", dec("4"), "usage", "job_1", nil)
	require.NoError(t, err)

	report, err := accounts.Reconcile(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, report.Balanced)
	assert.True(t, report.Drift.IsZero())
	assert.True(t, report.Balance.Equal(dec("6")))
	assert.True(t, report.LedgerSum.Equal(dec("6")))
	assert.True(t, report.CounterNet.Equal(dec("6")))
	assert.True(t, report.TotalCredited.Equal(dec("10")))
	assert.True(t, report.TotalDebited.Equal(dec("4")))
}

func TestReconcileUnknownAccount(t *testing.T) {
	store := memory.New()
	ledger := NewLedgerService(store, nil)
	accounts := NewAccountService(store, ledger, decimal.Zero)

	_, err := accounts.Reconcile(context.Background(), "ghost")
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeAccountNotFound, lerr.Code)
}
