// Package memory is an in-process ledger.Store. Units of work run one at a
// time under a single mutex and their writes become visible only on commit.
// It backs tests and single-node demo deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"agrivest/internal/ledger"
)

type commissionKey struct {
	investmentID string
	level        int
}

type Store struct {
	mu sync.Mutex

	accounts    map[string]ledger.Account
	byCode      map[string]string
	packages    map[string]ledger.Package
	investments map[string]ledger.Investment
	txs         []ledger.Transaction
	commissions []ledger.Commission
	paidLevels  map[commissionKey]bool
	tasks       map[string]ledger.CascadeTask
	withdrawals map[string]ledger.Withdrawal

	failCommits int
	now         func() time.Time
}

func New() *Store {
	return &Store{
		accounts:    map[string]ledger.Account{},
		byCode:      map[string]string{},
		packages:    map[string]ledger.Package{},
		investments: map[string]ledger.Investment{},
		paidLevels:  map[commissionKey]bool{},
		tasks:       map[string]ledger.CascadeTask{},
		withdrawals: map[string]ledger.Withdrawal{},
		now:         time.Now,
	}
}

// FailNextCommits makes the next n commits report ledger.ErrConcurrentUpdate
// and discard their writes.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	s.failCommits = n
	s.mu.Unlock()
}

// InTx must not be re-entered from fn, and fn must not call the Store's own
// read methods.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	if s.failCommits > 0 {
		s.failCommits--
		return ledger.ErrConcurrentUpdate
	}
	tx.commit()
	return nil
}

func (s *Store) Account(_ context.Context, id string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountByReferralCode(_ context.Context, code string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) ReferrerOf(_ context.Context, accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return a.ReferrerID, nil
}

func (s *Store) ActiveReferralCount(_ context.Context, accountID string, currentOnly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invested := s.investorsLocked(currentOnly)
	n := 0
	for _, a := range s.accounts {
		if a.ReferrerID == accountID && invested[a.ID] {
			n++
		}
	}
	return n, nil
}

func (s *Store) investorsLocked(currentOnly bool) map[string]bool {
	out := map[string]bool{}
	for _, inv := range s.investments {
		if currentOnly && inv.Status != ledger.InvestmentActive {
			continue
		}
		out[inv.AccountID] = true
	}
	return out
}

func (s *Store) DirectReferrals(_ context.Context, accountID string) ([]ledger.ReferralView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invested := s.investorsLocked(false)
	out := []ledger.ReferralView{}
	for _, a := range s.accounts {
		if a.ReferrerID != accountID {
			continue
		}
		out = append(out, ledger.ReferralView{
			AccountID: a.ID,
			Name:      a.Name,
			JoinedAt:  a.CreatedAt,
			Active:    invested[a.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]ledger.LeaderboardRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, a := range s.accounts {
		if a.ReferrerID != "" {
			counts[a.ReferrerID]++
		}
	}
	rows := make([]ledger.LeaderboardRow, 0, len(counts))
	for id, n := range counts {
		a := s.accounts[id]
		rows = append(rows, ledger.LeaderboardRow{
			AccountID:          id,
			Name:               a.Name,
			ReferralCount:      n,
			TotalReferralPaise: a.TotalReferralPaise,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ReferralCount != rows[j].ReferralCount {
			return rows[i].ReferralCount > rows[j].ReferralCount
		}
		if rows[i].TotalReferralPaise != rows[j].TotalReferralPaise {
			return rows[i].TotalReferralPaise > rows[j].TotalReferralPaise
		}
		return rows[i].AccountID < rows[j].AccountID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = int64(i + 1)
	}
	return rows, nil
}

func (s *Store) Investment(_ context.Context, id string) (ledger.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.investments[id]
	if !ok {
		return ledger.Investment{}, ledger.ErrNotFound
	}
	return inv, nil
}

func (s *Store) ActiveInvestmentIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]ledger.Investment, 0)
	for _, inv := range s.investments {
		if inv.Status == ledger.InvestmentActive {
			active = append(active, inv)
		}
	}
	sortInvestments(active)
	ids := make([]string, 0, len(active))
	for _, inv := range active {
		ids = append(ids, inv.ID)
	}
	return ids, nil
}

func (s *Store) ListInvestments(_ context.Context, accountID string) ([]ledger.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Investment{}
	for _, inv := range s.investments {
		if inv.AccountID == accountID {
			out = append(out, inv)
		}
	}
	sortInvestments(out)
	slices.Reverse(out)
	return out, nil
}

func sortInvestments(list []ledger.Investment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Transaction{}
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].AccountID != accountID {
			continue
		}
		out = append(out, s.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListCommissions(_ context.Context, referrerID string) ([]ledger.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Commission{}
	for i := len(s.commissions) - 1; i >= 0; i-- {
		if s.commissions[i].ReferrerID == referrerID {
			out = append(out, s.commissions[i])
		}
	}
	return out, nil
}

func (s *Store) Package(_ context.Context, id string) (ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return ledger.Package{}, ledger.ErrNotFound
	}
	return clonePackage(p), nil
}

func (s *Store) ListPackages(_ context.Context) ([]ledger.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Package, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, clonePackage(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinInvestmentPaise != out[j].MinInvestmentPaise {
			return out[i].MinInvestmentPaise < out[j].MinInvestmentPaise
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpsertPackage(_ context.Context, p ledger.Package) error {
	if p.ID == "" {
		return fmt.Errorf("package id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[p.ID] = clonePackage(p)
	return nil
}

func clonePackage(p ledger.Package) ledger.Package {
	p.Sectors = slices.Clone(p.Sectors)
	return p
}

func (s *Store) PendingCascadeTasks(_ context.Context, staleBefore time.Time, maxAttempts, limit int) ([]ledger.CascadeTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.CascadeTask{}
	for _, t := range s.tasks {
		if t.Status == ledger.CascadeDone || t.Attempts >= maxAttempts {
			continue
		}
		if !t.UpdatedAt.Before(staleBefore) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InvestmentID < out[j].InvestmentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CascadeTask returns the stored task for investmentID.
func (s *Store) CascadeTask(investmentID string) (ledger.CascadeTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[investmentID]
	return t, ok
}

func (s *Store) Withdrawal(_ context.Context, id string) (ledger.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return ledger.Withdrawal{}, ledger.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListWithdrawals(_ context.Context, f ledger.WithdrawalFilter) ([]ledger.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ledger.Withdrawal{}
	for _, w := range s.withdrawals {
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.AccountID != "" && w.AccountID != f.AccountID {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}
