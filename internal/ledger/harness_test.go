package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agrivest/internal/ledger"
	"agrivest/internal/store/memory"
)

var day0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvanceTo moves the clock to t unless it is already past it.
func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t
	}
	c.mu.Unlock()
}

var testPackage = ledger.Package{
	ID:                 "gold",
	Name:               "Gold",
	MinInvestmentPaise: ledger.RupeesToPaise(1000),
	DailyReturnBps:     500,
	DurationDays:       30,
	Active:             true,
	Sectors:            ledger.Sectors,
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	svc   *ledger.Service
	store *memory.Store
	clock *fakeClock
}

func newHarness(t *testing.T, mutate ...func(*ledger.Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: day0.Add(9 * time.Hour)}
	opts := ledger.Options{Location: time.UTC, Clock: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}
	st := memory.New()
	svc := ledger.NewService(st, quietLogger(), opts)
	require.NoError(t, svc.SeedPackages(context.Background(), []ledger.Package{testPackage}))
	return &harness{t: t, ctx: context.Background(), svc: svc, store: st, clock: clock}
}

// accrue brings the clock to the morning of day n and runs svc's accrual for
// that day.
func (h *harness) accrue(svc *ledger.Service, n int) (ledger.AccrualSummary, error) {
	h.t.Helper()
	h.clock.AdvanceTo(day(n).Add(9 * time.Hour))
	return svc.RunDailyAccrual(h.ctx, day(n))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (h *harness) register(name, referrerCode string) ledger.Account {
	h.t.Helper()
	acct, err := h.svc.RegisterAccount(h.ctx, ledger.RegisterInput{Name: name, ReferralCode: referrerCode})
	require.NoError(h.t, err)
	return acct
}

func (h *harness) topUp(accountID string, rupees int64) {
	h.t.Helper()
	_, err := h.svc.TopUp(h.ctx, accountID, ledger.RupeesToPaise(rupees), "test")
	require.NoError(h.t, err)
}

func (h *harness) invest(accountID string, rupees int64) ledger.Investment {
	h.t.Helper()
	inv, err := h.svc.OpenInvestment(h.ctx, ledger.OpenInvestmentInput{
		AccountID:   accountID,
		Package:     testPackage,
		AmountPaise: ledger.RupeesToPaise(rupees),
	})
	require.NoError(h.t, err)
	return inv
}

// investor registers an account under referrerCode, funds it and opens one
// minimum investment. Its cascade is left pending.
func (h *harness) investor(name, referrerCode string) ledger.Account {
	h.t.Helper()
	acct := h.register(name, referrerCode)
	h.topUp(acct.ID, 1000)
	h.invest(acct.ID, 1000)
	return h.account(acct.ID)
}

func (h *harness) account(id string) ledger.Account {
	h.t.Helper()
	acct, err := h.svc.Account(h.ctx, id)
	require.NoError(h.t, err)
	return acct
}

func (h *harness) requireReconciled(id string) {
	h.t.Helper()
	acct := h.account(id)
	lines, err := h.store.ListTransactions(h.ctx, id, 0)
	require.NoError(h.t, err)
	var wallet, locked int64
	for _, l := range lines {
		wallet += l.WalletDeltaPaise
		locked += l.LockedDeltaPaise
	}
	require.Equal(h.t, acct.WalletPaise, wallet, "wallet does not reconcile for %s", id)
	require.Equal(h.t, acct.LockedPaise, locked, "locked does not reconcile for %s", id)
	require.GreaterOrEqual(h.t, acct.WalletPaise, int64(0))
	require.GreaterOrEqual(h.t, acct.LockedPaise, int64(0))
}
