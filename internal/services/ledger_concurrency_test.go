package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// N callers replaying the same external event must produce exactly one
// transaction and one balance increment; every caller sees the winner.
func TestConcurrentDuplicateCreditsApplyOnce(t *testing.T) {
	svc, store := newLedger(t, "acct-1")
	ctx := context.Background()

	const n = 32
	results := make([]Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Credit(ctx, "acct-1", dec("10"), "stripe", "sess_race", nil)
		}(i)
	}
	wg.Wait()

	winnerID := ""
	idempotent := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.True(t, results[i].NewBalance.Equal(dec("10")), "caller %d balance %s", i, results[i].NewBalance)
		if winnerID == "" {
			winnerID = results[i].TransactionID
		}
		assert.Equal(t, winnerID, results[i].TransactionID, "caller %d", i)
		if results[i].Idempotent {
			idempotent++
		}
	}
	assert.Equal(t, n-1, idempotent, "exactly one caller should win the insert")

	history, err := svc.GetHistory(ctx, "acct-1", n)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))

	sum, err := store.SumAmounts(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(dec("10")))
}

// Concurrent debits against a small balance: some succeed, the rest reject
// with InsufficientBalance, and conservation holds afterwards.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, store := newLedger(t, "acct-1")
	ctx := context.Background()

	_, err := svc.Credit(ctx, "acct-1", dec("5"), "stripe", "seed", nil)
	require.NoError(t, err)

	const n = 20 // each debits 1, only 5 can fit
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, "acct-1", dec("1"), "usage", "", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			succeeded++
			continue
		}
		var lerr *Error
		require.ErrorAs(t, errs[i], &lerr, "caller %d", i)
		assert.Equal(t, CodeInsufficientBalance, lerr.Code)
	}
	assert.Equal(t, 5, succeeded)

	balance, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance %s", balance)

	sum, err := store.SumAmounts(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

// Mixed concurrent traffic on several accounts; afterwards every balance must
// equal the replayed sum of its log and the lifetime counters must agree.
func TestConservationUnderConcurrentTraffic(t *testing.T) {
	accounts := []string{"a", "b", "c"}
	svc, store := newLedger(t, accounts...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range accounts {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				_, err := svc.Credit(ctx, id, dec("3"), "stripe", "", nil)
				assert.NoError(t, err)
				// Debits may reject early on; both outcomes are fine.
				_, _ = svc.Debit(ctx, id, dec("2"), "usage", "", nil)
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range accounts {
		acct, err := store.GetAccount(ctx, id)
		require.NoError(t, err)
		sum, err := store.SumAmounts(ctx, id)
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(sum),
			"account %s: balance %s, ledger sum %s", id, acct.Balance, sum)
		assert.True(t, acct.Balance.Equal(acct.TotalCredited.Sub(acct.TotalDebited)),
			"account %s: counters drifted", id)
	}
}
