package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type accrualAction int

const (
	accrualSkip accrualAction = iota
	accrualAccrue
	accrualMature
)

type accrualPlan struct {
	action accrualAction
	// days of return to add before the action takes effect.
	days int
	// missed counts trigger days that passed without a run and are not made
	// up because catch-up is off.
	missed int
}

// planAccrual decides what one scheduler pass does to inv on today. A record
// already advanced to today or later is left alone, which makes repeated
// passes on the same day harmless.
func planAccrual(inv Investment, today time.Time, catchUp bool) accrualPlan {
	if inv.Status.Terminal() {
		return accrualPlan{action: accrualSkip}
	}
	if !inv.LastAccrualDate.Before(today) {
		return accrualPlan{action: accrualSkip}
	}
	if today.After(inv.EndDate) {
		plan := accrualPlan{action: accrualMature}
		if inv.LastAccrualDate.Before(inv.EndDate) {
			outstanding := daysBetween(inv.LastAccrualDate, inv.EndDate)
			if catchUp {
				plan.days = outstanding
			} else {
				plan.missed = outstanding
			}
		}
		return plan
	}
	outstanding := daysBetween(inv.LastAccrualDate, today)
	if catchUp {
		return accrualPlan{action: accrualAccrue, days: outstanding}
	}
	return accrualPlan{action: accrualAccrue, days: 1, missed: outstanding - 1}
}

type recordOutcome struct {
	action       accrualAction
	accruedPaise int64
	payoutPaise  int64
	missedDays   int
}

// RunDailyAccrual advances every active investment for the calendar day asOf
// (the zero time means today). asOf is read as a calendar date and may not be
// later than today. A record that fails is logged and counted; the rest of the
// batch still runs.
func (s *Service) RunDailyAccrual(ctx context.Context, asOf time.Time) (AccrualSummary, error) {
	started := time.Now()
	today := s.today()
	if !asOf.IsZero() {
		y, m, d := asOf.Date()
		requested := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if requested.After(today) {
			return AccrualSummary{AsOf: requested}, fmt.Errorf("%w: as_of %s is after today %s",
				ErrInvalidInput, requested.Format(time.DateOnly), today.Format(time.DateOnly))
		}
		today = requested
	}
	summary := AccrualSummary{AsOf: today}

	ids, err := s.store.ActiveInvestmentIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("list active investments: %w", err)
	}
	summary.Scanned = len(ids)

	var mu sync.Mutex
	record := func(id string, out recordOutcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.Failed++
			s.log.Error("accrual failed", "investment_id", id, "as_of", today.Format(time.DateOnly), "err", err)
			return
		}
		switch out.action {
		case accrualAccrue:
			summary.Accrued++
		case accrualMature:
			summary.Matured++
			summary.PaidOutPaise += out.payoutPaise
		default:
			summary.Skipped++
		}
		summary.AccruedPaise += out.accruedPaise
		summary.MissedDays += out.missedDays
	}

	var g errgroup.Group
	g.SetLimit(s.opts.AccrualWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			out, err := s.accrueInvestment(ctx, id, today)
			record(id, out, err)
			return nil
		})
	}
	_ = g.Wait()

	summary.DurationMilli = time.Since(started).Milliseconds()
	s.metrics.AccrualRun(summary)
	s.log.Info("daily accrual finished",
		"as_of", today.Format(time.DateOnly),
		"scanned", summary.Scanned,
		"accrued", summary.Accrued,
		"matured", summary.Matured,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"missed_days", summary.MissedDays,
		"duration_ms", summary.DurationMilli,
	)
	return summary, nil
}

func (s *Service) accrueInvestment(ctx context.Context, id string, today time.Time) (recordOutcome, error) {
	var (
		out         recordOutcome
		lastAccrual time.Time
		accountID   string
	)
	err := s.inTx(ctx, func(tx Tx) error {
		out = recordOutcome{}
		inv, err := tx.LockInvestment(ctx, id)
		if err != nil {
			return err
		}
		plan := planAccrual(inv, today, s.opts.CatchUpMissedDays)
		out.action = plan.action
		out.missedDays = plan.missed
		lastAccrual = inv.LastAccrualDate
		accountID = inv.AccountID
		add := int64(plan.days) * inv.DailyReturnPaise
		switch plan.action {
		case accrualSkip:
			return nil
		case accrualAccrue:
			inv.AccruedPaise += add
			inv.LastAccrualDate = today
			out.accruedPaise = add
			return tx.UpdateInvestment(ctx, inv)
		}

		inv.AccruedPaise += add
		out.accruedPaise = add
		acct, err := tx.LockAccount(ctx, inv.AccountID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("owning account %s: %w", inv.AccountID, err)
			}
			return err
		}
		p := NewPosting(&acct)
		if err := p.ReleaseFromLocked(inv.PrincipalPaise); err != nil {
			return err
		}
		if err := p.Credit(inv.AccruedPaise); err != nil {
			return err
		}
		acct.TotalEarnedPaise += inv.AccruedPaise
		payout := inv.PrincipalPaise + inv.AccruedPaise
		desc := fmt.Sprintf("%s matured: principal %s + returns %s", inv.PackageName, FormatPaise(inv.PrincipalPaise), FormatPaise(inv.AccruedPaise))
		if _, err := p.Post(ctx, tx, TxReturnCredit, payout, inv.ID, desc); err != nil {
			return err
		}
		completed := s.now()
		inv.Status = InvestmentCompleted
		inv.CompletedAt = &completed
		inv.LastAccrualDate = today
		out.payoutPaise = payout
		return tx.UpdateInvestment(ctx, inv)
	})
	if err == nil && out.missedDays > 0 {
		s.log.Warn("accrual days missed without catch-up",
			"investment_id", id,
			"account_id", accountID,
			"last_accrual", lastAccrual.Format(time.DateOnly),
			"as_of", today.Format(time.DateOnly),
			"missed_days", out.missedDays,
		)
	}
	return out, err
}
