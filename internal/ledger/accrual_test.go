package ledger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivest/internal/ledger"
	"agrivest/internal/store/memory"
)

func TestMaturityScenario(t *testing.T) {
	h := newHarness(t)
	acct := h.register("Asha", "")
	h.topUp(acct.ID, 1000)
	inv := h.invest(acct.ID, 1000)

	require.Equal(t, int64(5_000), inv.DailyReturnPaise)
	require.True(t, inv.EndDate.Equal(day(30)))

	opened := h.account(acct.ID)
	assert.Equal(t, int64(0), opened.WalletPaise)
	assert.Equal(t, int64(100_000), opened.LockedPaise)
	assert.Equal(t, int64(100_000), opened.TotalInvestedPaise)

	for n := 1; n <= 30; n++ {
		sum, err := h.accrue(h.svc, n)
		require.NoError(t, err)
		require.Equal(t, 1, sum.Accrued, "day %d", n)
		require.Equal(t, 0, sum.Matured, "day %d", n)
	}
	got, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), got.AccruedPaise)
	assert.Equal(t, ledger.InvestmentActive, got.Status)
	// Returns stay off the wallet until maturity.
	assert.Equal(t, int64(0), h.account(acct.ID).WalletPaise)

	sum, err := h.accrue(h.svc, 31)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matured)
	assert.Equal(t, int64(250_000), sum.PaidOutPaise)

	matured := h.account(acct.ID)
	assert.Equal(t, int64(250_000), matured.WalletPaise)
	assert.Equal(t, int64(0), matured.LockedPaise)
	assert.Equal(t, int64(150_000), matured.TotalEarnedPaise)

	got, err = h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvestmentCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.LastAccrualDate.Equal(day(31)))

	lines, err := h.svc.ListTransactions(h.ctx, acct.ID, 10)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, ledger.TxReturnCredit, lines[0].Kind)
	assert.Equal(t, int64(250_000), lines[0].AmountPaise)
	assert.Equal(t, int64(-100_000), lines[0].LockedDeltaPaise)

	sum, err = h.accrue(h.svc, 32)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Scanned)
	after, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, got, after)
	assert.Equal(t, matured.WalletPaise, h.account(acct.ID).WalletPaise)
	h.requireReconciled(acct.ID)
}

func TestRunDailyAccrualIdempotentPerDay(t *testing.T) {
	h := newHarness(t)
	acct := h.register("Bala", "")
	h.topUp(acct.ID, 2000)
	inv := h.invest(acct.ID, 2000)

	first, err := h.accrue(h.svc, 1)
	require.NoError(t, err)
	require.Equal(t, 1, first.Accrued)
	snapshot, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := h.accrue(h.svc, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Accrued)
		assert.Equal(t, 1, again.Skipped)
	}
	after, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot, after)
	assert.Equal(t, int64(10_000), after.AccruedPaise)
}

func TestRunDailyAccrualSameDayAsOpenSkips(t *testing.T) {
	h := newHarness(t)
	acct := h.register("Chitra", "")
	h.topUp(acct.ID, 1000)
	h.invest(acct.ID, 1000)

	sum, err := h.accrue(h.svc, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, int64(0), sum.AccruedPaise)
}

func TestRunDailyAccrualDefaultsToToday(t *testing.T) {
	h := newHarness(t)
	acct := h.register("Dev", "")
	h.topUp(acct.ID, 1000)
	inv := h.invest(acct.ID, 1000)

	h.clock.Advance(24 * time.Hour)
	sum, err := h.svc.RunDailyAccrual(h.ctx, time.Time{})
	require.NoError(t, err)
	assert.True(t, sum.AsOf.Equal(day(1)))
	assert.Equal(t, 1, sum.Accrued)

	got, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), got.AccruedPaise)
}

func TestRunDailyAccrualCatchUp(t *testing.T) {
	h := newHarness(t, func(o *ledger.Options) { o.CatchUpMissedDays = true })
	acct := h.register("Esha", "")
	h.topUp(acct.ID, 1000)
	inv := h.invest(acct.ID, 1000)

	_, err := h.accrue(h.svc, 5)
	require.NoError(t, err)
	got, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), got.AccruedPaise)

	sum, err := h.accrue(h.svc, 45)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matured)
	assert.Equal(t, int64(250_000), h.account(acct.ID).WalletPaise)
	h.requireReconciled(acct.ID)
}

func TestRunDailyAccrualParallelWorkers(t *testing.T) {
	h := newHarness(t, func(o *ledger.Options) { o.AccrualWorkers = 4 })
	var ids []string
	for i := 0; i < 12; i++ {
		acct := h.register("Worker", "")
		h.topUp(acct.ID, 1000)
		h.invest(acct.ID, 1000)
		ids = append(ids, acct.ID)
	}
	for n := 1; n <= 31; n++ {
		_, err := h.accrue(h.svc, n)
		require.NoError(t, err)
	}
	for _, id := range ids {
		assert.Equal(t, int64(250_000), h.account(id).WalletPaise)
		h.requireReconciled(id)
	}
}

// missingAccountStore hides one account from units of work, the way a
// deleted owner would look to the scheduler.
type missingAccountStore struct {
	*memory.Store
	hidden string
}

func (s missingAccountStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.Store.InTx(ctx, func(tx ledger.Tx) error {
		return fn(missingAccountTx{Tx: tx, hidden: s.hidden})
	})
}

type missingAccountTx struct {
	ledger.Tx
	hidden string
}

func (t missingAccountTx) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	if id == t.hidden {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return t.Tx.LockAccount(ctx, id)
}

func TestRunDailyAccrualRecordFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	good := h.register("Good", "")
	bad := h.register("Bad", "")
	for _, id := range []string{good.ID, bad.ID} {
		h.topUp(id, 1000)
		h.invest(id, 1000)
	}

	svc := ledger.NewService(missingAccountStore{Store: h.store, hidden: bad.ID}, quietLogger(), ledger.Options{Clock: h.clock.Now})
	for n := 1; n <= 30; n++ {
		sum, err := h.accrue(svc, n)
		require.NoError(t, err)
		require.Equal(t, 2, sum.Accrued)
	}
	sum, err := h.accrue(svc, 31)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matured)
	assert.Equal(t, 1, sum.Failed)

	assert.Equal(t, int64(250_000), h.account(good.ID).WalletPaise)
	assert.Equal(t, int64(0), h.account(bad.ID).WalletPaise)
	assert.Equal(t, int64(100_000), h.account(bad.ID).LockedPaise)

	invs, err := h.svc.ListInvestments(h.ctx, bad.ID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, ledger.InvestmentActive, invs[0].Status)
	assert.Equal(t, int64(150_000), invs[0].AccruedPaise)
}

func TestRunDailyAccrualRejectsFutureAsOf(t *testing.T) {
	h := newHarness(t)
	acct := h.register("Farah", "")
	h.topUp(acct.ID, 1000)
	inv := h.invest(acct.ID, 1000)

	_, err := h.svc.RunDailyAccrual(h.ctx, day(365))
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	_, err = h.svc.RunDailyAccrual(h.ctx, day(1))
	require.ErrorIs(t, err, ledger.ErrInvalidInput)

	got, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvestmentActive, got.Status)
	assert.Equal(t, int64(0), got.AccruedPaise)
	assert.Equal(t, int64(100_000), h.account(acct.ID).LockedPaise)

	// Today and earlier days are still accepted.
	sum, err := h.svc.RunDailyAccrual(h.ctx, day(0))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	sum, err = h.accrue(h.svc, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Accrued)
}

func TestRunDailyAccrualWarnsOnMissedDays(t *testing.T) {
	h := newHarness(t)
	var logs bytes.Buffer
	svc := ledger.NewService(h.store, slog.New(slog.NewTextHandler(&logs, nil)), ledger.Options{Clock: h.clock.Now})
	acct := h.register("Gita", "")
	h.topUp(acct.ID, 1000)
	inv := h.invest(acct.ID, 1000)

	total := 0
	for n := 1; n <= 31; n++ {
		if n == 10 {
			continue
		}
		sum, err := h.accrue(svc, n)
		require.NoError(t, err)
		if n == 11 {
			assert.Equal(t, 1, sum.MissedDays)
		}
		total += sum.MissedDays
	}
	assert.Equal(t, 1, total)
	assert.Contains(t, logs.String(), "accrual days missed")
	assert.Contains(t, logs.String(), "investment_id="+inv.ID)
	assert.Contains(t, logs.String(), "missed_days=1")

	got, err := h.svc.Investment(h.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.InvestmentCompleted, got.Status)
	assert.Equal(t, int64(145_000), got.AccruedPaise)
	h.requireReconciled(acct.ID)
}

func TestRunDailyAccrualCatchUpReportsNoMissedDays(t *testing.T) {
	h := newHarness(t, func(o *ledger.Options) { o.CatchUpMissedDays = true })
	acct := h.register("Hari", "")
	h.topUp(acct.ID, 1000)
	h.invest(acct.ID, 1000)

	sum, err := h.accrue(h.svc, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.MissedDays)
	assert.Equal(t, int64(20_000), sum.AccruedPaise)
}
