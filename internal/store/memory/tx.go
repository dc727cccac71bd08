package memory

import (
	"context"
	"fmt"

	"agrivest/internal/ledger"
)

// tx stages writes over the committed maps. The owning Store's mutex is held
// for its whole life.
type tx struct {
	s *Store

	accounts    map[string]ledger.Account
	investments map[string]ledger.Investment
	tasks       map[string]ledger.CascadeTask
	withdrawals map[string]ledger.Withdrawal
	txs         []ledger.Transaction
	commissions []ledger.Commission
	paidLevels  map[commissionKey]bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		accounts:    map[string]ledger.Account{},
		investments: map[string]ledger.Investment{},
		tasks:       map[string]ledger.CascadeTask{},
		withdrawals: map[string]ledger.Withdrawal{},
		paidLevels:  map[commissionKey]bool{},
	}
}

func (t *tx) commit() {
	s := t.s
	for id, a := range t.accounts {
		s.accounts[id] = a
		s.byCode[a.ReferralCode] = id
	}
	for id, inv := range t.investments {
		s.investments[id] = inv
	}
	for id, task := range t.tasks {
		s.tasks[id] = task
	}
	for id, w := range t.withdrawals {
		s.withdrawals[id] = w
	}
	s.txs = append(s.txs, t.txs...)
	s.commissions = append(s.commissions, t.commissions...)
	for k := range t.paidLevels {
		s.paidLevels[k] = true
	}
}

func (t *tx) account(id string) (ledger.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	a, ok := t.s.accounts[id]
	return a, ok
}

func (t *tx) LockAccount(_ context.Context, id string) (ledger.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return a, nil
}

func (t *tx) InsertAccount(_ context.Context, a ledger.Account) error {
	if _, ok := t.account(a.ID); ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	if _, ok := t.s.byCode[a.ReferralCode]; ok {
		return fmt.Errorf("referral code %s already taken", a.ReferralCode)
	}
	if a.ReferrerID != "" {
		if _, ok := t.account(a.ReferrerID); !ok {
			return fmt.Errorf("referrer %s: %w", a.ReferrerID, ledger.ErrNotFound)
		}
	}
	if a.WalletPaise < 0 || a.LockedPaise < 0 {
		return ledger.ErrNegativeBalance
	}
	a.Version = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.s.now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	t.accounts[a.ID] = a
	return nil
}

func (t *tx) UpdateAccount(_ context.Context, a ledger.Account) error {
	cur, ok := t.account(a.ID)
	if !ok {
		return ledger.ErrNotFound
	}
	if a.ReferrerID != cur.ReferrerID {
		return fmt.Errorf("account %s: referrer is immutable", a.ID)
	}
	if cur.FirstReferralBonusUsed && !a.FirstReferralBonusUsed {
		return fmt.Errorf("account %s: first referral bonus flag cannot be cleared", a.ID)
	}
	if a.WalletPaise < 0 || a.LockedPaise < 0 {
		return ledger.ErrNegativeBalance
	}
	a.ReferralCode = cur.ReferralCode
	a.CreatedAt = cur.CreatedAt
	a.Version = cur.Version + 1
	a.UpdatedAt = t.s.now().UTC()
	t.accounts[a.ID] = a
	return nil
}

func (t *tx) AppendTransaction(_ context.Context, line ledger.Transaction) error {
	if _, ok := t.account(line.AccountID); !ok {
		return fmt.Errorf("transaction account %s: %w", line.AccountID, ledger.ErrNotFound)
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = t.s.now().UTC()
	}
	t.txs = append(t.txs, line)
	return nil
}

func (t *tx) investment(id string) (ledger.Investment, bool) {
	if inv, ok := t.investments[id]; ok {
		return inv, true
	}
	inv, ok := t.s.investments[id]
	return inv, ok
}

func (t *tx) InsertInvestment(_ context.Context, inv ledger.Investment) error {
	if _, ok := t.investment(inv.ID); ok {
		return fmt.Errorf("investment %s already exists", inv.ID)
	}
	if _, ok := t.account(inv.AccountID); !ok {
		return fmt.Errorf("investment account %s: %w", inv.AccountID, ledger.ErrNotFound)
	}
	t.investments[inv.ID] = inv
	return nil
}

func (t *tx) LockInvestment(_ context.Context, id string) (ledger.Investment, error) {
	inv, ok := t.investment(id)
	if !ok {
		return ledger.Investment{}, ledger.ErrNotFound
	}
	return inv, nil
}

func (t *tx) UpdateInvestment(_ context.Context, inv ledger.Investment) error {
	cur, ok := t.investment(inv.ID)
	if !ok {
		return ledger.ErrNotFound
	}
	if cur.Status.Terminal() {
		return ledger.ErrAlreadyTerminal
	}
	if inv.AccruedPaise < cur.AccruedPaise {
		return fmt.Errorf("investment %s: accrued returns cannot decrease", inv.ID)
	}
	t.investments[inv.ID] = inv
	return nil
}

func (t *tx) InsertCommission(_ context.Context, c ledger.Commission) (bool, error) {
	if c.Level < 1 || c.Level > ledger.MaxReferralLevels {
		return false, fmt.Errorf("commission level %d out of range", c.Level)
	}
	key := commissionKey{investmentID: c.InvestmentID, level: c.Level}
	if t.paidLevels[key] || t.s.paidLevels[key] {
		return false, nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = t.s.now().UTC()
	}
	t.paidLevels[key] = true
	t.commissions = append(t.commissions, c)
	return true, nil
}

func (t *tx) LockCascadeTask(_ context.Context, investmentID string) (ledger.CascadeTask, error) {
	if task, ok := t.tasks[investmentID]; ok {
		return task, nil
	}
	task, ok := t.s.tasks[investmentID]
	if !ok {
		return ledger.CascadeTask{}, ledger.ErrNotFound
	}
	return task, nil
}

func (t *tx) PutCascadeTask(_ context.Context, task ledger.CascadeTask) error {
	if task.InvestmentID == "" {
		return fmt.Errorf("cascade task needs an investment id")
	}
	t.tasks[task.InvestmentID] = task
	return nil
}

func (t *tx) withdrawal(id string) (ledger.Withdrawal, bool) {
	if w, ok := t.withdrawals[id]; ok {
		return w, true
	}
	w, ok := t.s.withdrawals[id]
	return w, ok
}

func (t *tx) InsertWithdrawal(_ context.Context, w ledger.Withdrawal) error {
	if _, ok := t.withdrawal(w.ID); ok {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	t.withdrawals[w.ID] = w
	return nil
}

func (t *tx) LockWithdrawal(_ context.Context, id string) (ledger.Withdrawal, error) {
	w, ok := t.withdrawal(id)
	if !ok {
		return ledger.Withdrawal{}, ledger.ErrNotFound
	}
	return w, nil
}

func (t *tx) UpdateWithdrawal(_ context.Context, w ledger.Withdrawal) error {
	if _, ok := t.withdrawal(w.ID); !ok {
		return ledger.ErrNotFound
	}
	t.withdrawals[w.ID] = w
	return nil
}
