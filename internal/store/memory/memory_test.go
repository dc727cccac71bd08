package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivest/internal/ledger"
)

func seedAccount(t *testing.T, s *Store, id, code, referrer string) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertAccount(context.Background(), ledger.Account{ID: id, Name: id, ReferralCode: code, ReferrerID: referrer})
	})
	require.NoError(t, err)
}

func TestInTxDiscardsWritesOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a", "AAAA2222", "")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		acct, err := tx.LockAccount(ctx, "a")
		if err != nil {
			return err
		}
		acct.WalletPaise = 500
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	acct, err := s.Account(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.WalletPaise)
	assert.Equal(t, int64(1), acct.Version)
}

func TestInTxReadsOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a", "AAAA2222", "")

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		acct, _ := tx.LockAccount(ctx, "a")
		acct.WalletPaise = 700
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		again, err := tx.LockAccount(ctx, "a")
		if err != nil {
			return err
		}
		if again.WalletPaise != 700 || again.Version != 2 {
			return errors.New("staged write not visible")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFailNextCommits(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.FailNextCommits(1)
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertAccount(ctx, ledger.Account{ID: "a", ReferralCode: "AAAA2222"})
	})
	require.ErrorIs(t, err, ledger.ErrConcurrentUpdate)
	_, err = s.Account(ctx, "a")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	seedAccount(t, s, "a", "AAAA2222", "")
}

func TestAccountGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "root", "ROOT2222", "")
	seedAccount(t, s, "child", "CHLD2222", "root")

	tests := []struct {
		name   string
		mutate func(*ledger.Account)
	}{
		{name: "negative wallet", mutate: func(a *ledger.Account) { a.WalletPaise = -1 }},
		{name: "negative locked", mutate: func(a *ledger.Account) { a.LockedPaise = -1 }},
		{name: "referrer change", mutate: func(a *ledger.Account) { a.ReferrerID = "" }},
	}
	for _, tc := range tests {
		err := s.InTx(ctx, func(tx ledger.Tx) error {
			acct, err := tx.LockAccount(ctx, "child")
			if err != nil {
				return err
			}
			tc.mutate(&acct)
			return tx.UpdateAccount(ctx, acct)
		})
		require.Error(t, err, tc.name)
	}

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		acct, _ := tx.LockAccount(ctx, "root")
		acct.FirstReferralBonusUsed = true
		return tx.UpdateAccount(ctx, acct)
	})
	require.NoError(t, err)
	err = s.InTx(ctx, func(tx ledger.Tx) error {
		acct, _ := tx.LockAccount(ctx, "root")
		acct.FirstReferralBonusUsed = false
		return tx.UpdateAccount(ctx, acct)
	})
	require.Error(t, err)

	err = s.InTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertAccount(ctx, ledger.Account{ID: "x", ReferralCode: "XXXX2222", ReferrerID: "nobody"})
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInsertCommissionUniquePerLevel(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := ledger.Commission{ID: "c1", ReferrerID: "r", InvestmentID: "inv", Level: 1, AmountPaise: 10}

	var first, second bool
	err := s.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		first, err = tx.InsertCommission(ctx, c)
		if err != nil {
			return err
		}
		c.ID = "c2"
		second, err = tx.InsertCommission(ctx, c)
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	err = s.InTx(ctx, func(tx ledger.Tx) error {
		ok, err := tx.InsertCommission(ctx, ledger.Commission{ID: "c3", InvestmentID: "inv", Level: 1})
		if ok {
			return errors.New("committed level inserted twice")
		}
		return err
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx ledger.Tx) error {
		_, err := tx.InsertCommission(ctx, ledger.Commission{ID: "c4", InvestmentID: "inv", Level: 5})
		return err
	})
	require.Error(t, err)

	list, err := s.ListCommissions(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTerminalInvestmentIsFrozen(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a", "AAAA2222", "")
	inv := ledger.Investment{ID: "i", AccountID: "a", Status: ledger.InvestmentCompleted}
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error { return tx.InsertInvestment(ctx, inv) }))

	err := s.InTx(ctx, func(tx ledger.Tx) error {
		inv.AccruedPaise = 10
		return tx.UpdateInvestment(ctx, inv)
	})
	require.ErrorIs(t, err, ledger.ErrAlreadyTerminal)

	ids, err := s.ActiveInvestmentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPendingCascadeTasks(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tasks := []ledger.CascadeTask{
		{InvestmentID: "old", Status: ledger.CascadePending, CreatedAt: base, UpdatedAt: base},
		{InvestmentID: "failed", Status: ledger.CascadeFailed, Attempts: 2, CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{InvestmentID: "exhausted", Status: ledger.CascadeFailed, Attempts: 5, CreatedAt: base, UpdatedAt: base},
		{InvestmentID: "done", Status: ledger.CascadeDone, Attempts: 1, CreatedAt: base, UpdatedAt: base},
		{InvestmentID: "fresh", Status: ledger.CascadePending, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
	}
	require.NoError(t, s.InTx(ctx, func(tx ledger.Tx) error {
		for _, task := range tasks {
			if err := tx.PutCascadeTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.PendingCascadeTasks(ctx, base.Add(time.Minute), 5, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "old", got[0].InvestmentID)
	assert.Equal(t, "failed", got[1].InvestmentID)

	got, err = s.PendingCascadeTasks(ctx, base.Add(time.Minute), 5, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
