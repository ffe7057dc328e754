package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalapp/minutes-ledger/internal/models"
	"github.com/orbitalapp/minutes-ledger/internal/repository/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T, accountIDs ...string) (*LedgerService, *memory.Store) {
	t.Helper()
	store := memory.New()
	for _, id := range accountIDs {
		_, err := store.GetOrCreateAccount(context.Background(), id)
		require.NoError(t, err)
	}
	return NewLedgerService(store, nil), store
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")

	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Credit(context.Background(), "acct-1", dec(amount), "stripe", "sess_1", nil)
		var lerr *Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, CodeInvalidAmount, lerr.Code)
	}

	// Nothing written.
	sum, err := svc.store.SumAmounts(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")

	_, err := svc.Debit(context.Background(), "acct-1", dec("0"), "usage", "job_1", nil)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeInvalidAmount, lerr.Code)
}

func TestCreditUnknownAccount(t *testing.T) {
	svc, _ := newLedger(t)

	_, err := svc.Credit(context.Background(), "ghost", dec("10"), "stripe", "sess_1", nil)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeAccountNotFound, lerr.Code)
}

func TestCreditThenIdempotentReplay(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	first, err := svc.Credit(ctx, "acct-1", dec("10"), "stripe", "sess_1", map[string]any{"tier": "starter"})
	require.NoError(t, err)
	assert.False(t, first.Idempotent)
	assert.True(t, first.PreviousBalance.IsZero())
	assert.True(t, first.NewBalance.Equal(dec("10")), "got %s", first.NewBalance)

	second, err := svc.Credit(ctx, "acct-1", dec("10"), "stripe", "sess_1", nil)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.NewBalance.Equal(dec("10")))
	assert.True(t, second.PreviousBalance.Equal(first.PreviousBalance))

	// The balance increased exactly once.
	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))

	history, err := svc.GetHistory(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestInsufficientBalanceIsANoOp(t *testing.T) {
	svc, store := newLedger(t, "acct-1")
	ctx := context.Background()

	_, err := svc.Credit(ctx, "acct-1", dec("5"), "stripe", "sess_1", nil)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "acct-1", dec("100"), "usage", "job_1", nil)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeInsufficientBalance, lerr.Code)
	assert.True(t, lerr.Balance.Equal(dec("5")))
	assert.True(t, lerr.Requested.Equal(dec("100")))

	// Verifiable no-op: balance unchanged, no transaction row.
	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("5")))

	history, err := svc.GetHistory(ctx, "acct-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	sum, err := store.SumAmounts(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("5")))
}

// The scenario from the product runbook: purchase, webhook replay, usage,
// over-debit, history.
func TestPurchaseAndUsageScenario(t *testing.T) {
	svc, _ := newLedger(t, "A")
	ctx := context.Background()

	res, err := svc.Credit(ctx, "A", dec("10"), "stripe", "sess_1", nil)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("10")))

	res, err = svc.Credit(ctx, "A", dec("10"), "stripe", "sess_1", nil)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.True(t, res.NewBalance.Equal(dec("10")))

	res, err = svc.Debit(ctx, "A", dec("4"), "usage", "job_1", nil)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("6")))
	assert.True(t, res.Amount.Equal(dec("-4")))

	_, err = svc.Debit(ctx, "A", dec("100"), "usage", "job_2", nil)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeInsufficientBalance, lerr.Code)
	assert.True(t, lerr.Balance.Equal(dec("6")))

	history, err := svc.GetHistory(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TxnDebit, history[0].Type)
	assert.True(t, history[0].Amount.Equal(dec("-4")))
	assert.True(t, history[0].BalanceAfter.Equal(dec("6")))
	assert.Equal(t, models.TxnCredit, history[1].Type)
	assert.True(t, history[1].Amount.Equal(dec("10")))
	assert.True(t, history[1].BalanceAfter.Equal(dec("10")))
}

func TestRefundHasItsOwnIdempotencyNamespace(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	_, err := svc.Credit(ctx, "acct-1", dec("10"), "usage-pipeline", "job_9", nil)
	require.NoError(t, err)

	// Same (source, reference) but type=refund must not collide.
	res, err := svc.Refund(ctx, "acct-1", dec("2.5"), "usage-pipeline", "job_9", nil)
	require.NoError(t, err)
	assert.False(t, res.Idempotent)
	assert.True(t, res.NewBalance.Equal(dec("12.5")))

	// Replaying the refund does.
	res, err = svc.Refund(ctx, "acct-1", dec("2.5"), "usage-pipeline", "job_9", nil)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.True(t, res.NewBalance.Equal(dec("12.5")))
}

func TestAdjustBothDirections(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	_, err := svc.Adjust(ctx, "acct-1", dec("0"), "admin", "", nil)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeInvalidAmount, lerr.Code)

	res, err := svc.Adjust(ctx, "acct-1", dec("7.5"), "admin", "ticket-100", nil)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("7.5")))

	res, err = svc.Adjust(ctx, "acct-1", dec("-2.5"), "admin", "ticket-101", nil)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(dec("5")))

	// Negative adjustments cannot overdraw.
	_, err = svc.Adjust(ctx, "acct-1", dec("-50"), "admin", "ticket-102", nil)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeInsufficientBalance, lerr.Code)
}

func TestCallsWithoutReferenceAreNeverDeduplicated(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, "acct-1", dec("1"), "admin", "", nil)
		require.NoError(t, err)
	}
	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("3")))
}

func TestHistoryOrderingAndRunningBalance(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	amounts := []string{"10", "20", "30", "40", "50"}
	for i, a := range amounts {
		_, err := svc.Credit(ctx, "acct-1", dec(a), "stripe", "sess_"+a, nil)
		require.NoError(t, err, "credit %d", i)
	}

	history, err := svc.GetHistory(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 5)

	// Newest first, balance_after forming the running total back to zero.
	running := dec("150")
	for _, txn := range history {
		assert.True(t, txn.BalanceAfter.Equal(running),
			"balance_after %s, want %s", txn.BalanceAfter, running)
		running = running.Sub(txn.Amount)
	}
	assert.True(t, running.IsZero())

	// A shorter window returns the newest entries only.
	head, err := svc.GetHistory(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, head, 2)
	assert.True(t, head[0].Amount.Equal(dec("50")))
	assert.True(t, head[1].Amount.Equal(dec("40")))
}

func TestSignupBonusIdempotentByAccount(t *testing.T) {
	svc, _ := newLedger(t, "acct-1")
	ctx := context.Background()

	first, err := svc.SignupBonus(ctx, "acct-1", dec("3"))
	require.NoError(t, err)
	assert.False(t, first.Idempotent)

	second, err := svc.SignupBonus(ctx, "acct-1", dec("3"))
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("3")))
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	svc, _ := newLedger(t)

	_, err := svc.GetBalance(context.Background(), "ghost")
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeAccountNotFound, lerr.Code)
}
