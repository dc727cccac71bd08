package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	cascadeSweepGrace = 30 * time.Second
	DefaultSweepLimit = 100
)

// Distribute walks up to MaxReferralLevels referrers above investorID and pays
// each qualified one its commission on amountPaise. Each level is its own unit
// of work. An unqualified or failed level still advances the level counter and
// the walk continues. Level failures are logged and returned joined.
func (s *Service) Distribute(ctx context.Context, investmentID, investorID string, amountPaise int64) (CascadeResult, error) {
	res := CascadeResult{InvestmentID: investmentID}
	var errs []error
	seen := map[string]bool{investorID: true}
	current := investorID
	for level := 1; level <= MaxReferralLevels; level++ {
		referrerID, err := s.store.ReferrerOf(ctx, current)
		if err != nil {
			s.log.Error("referral chain lookup failed",
				"investment_id", investmentID,
				"investor_id", investorID,
				"account_id", current,
				"level", level,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("level %d: referrer of %s: %w", level, current, err))
			break
		}
		if referrerID == "" {
			break
		}
		if seen[referrerID] {
			err := fmt.Errorf("level %d: referral cycle at %s", level, referrerID)
			s.log.Error("referral cycle detected", "investment_id", investmentID, "referrer_id", referrerID, "level", level)
			errs = append(errs, err)
			break
		}
		seen[referrerID] = true

		lr := s.evaluateLevel(ctx, investmentID, investorID, referrerID, level, amountPaise)
		s.metrics.CommissionLevel(lr)
		res.Levels = append(res.Levels, lr)
		if lr.Outcome == LevelFailed {
			s.log.Error("commission level failed",
				"referrer_id", referrerID,
				"investment_id", investmentID,
				"investor_id", investorID,
				"level", level,
				"reason", lr.Err,
			)
			errs = append(errs, fmt.Errorf("level %d referrer %s: %s", level, referrerID, lr.Err))
		}
		current = referrerID
	}
	if paid := res.PaidPaise(); paid > 0 {
		s.log.Info("commissions distributed", "investment_id", investmentID, "investor_id", investorID, "paid_paise", paid)
	}
	return res, errors.Join(errs...)
}

func (s *Service) evaluateLevel(ctx context.Context, investmentID, investorID, referrerID string, level int, amountPaise int64) LevelResult {
	lr := LevelResult{Level: level, ReferrerID: referrerID}
	if level > 1 {
		active, err := s.store.ActiveReferralCount(ctx, referrerID, s.opts.ActiveReferralCurrentOnly)
		if err != nil {
			lr.Outcome = LevelFailed
			lr.Err = fmt.Sprintf("count active referrals: %v", err)
			return lr
		}
		if !QualifiesForLevel(level, active) {
			lr.Outcome = LevelUnqualified
			return lr
		}
	}
	if err := s.payLevel(ctx, &lr, investmentID, investorID, amountPaise); err != nil {
		lr.Outcome = LevelFailed
		lr.Err = err.Error()
	}
	return lr
}

// payLevel credits one referrer. The commission row, the wallet credit, the
// counters and the transaction line commit together or not at all.
func (s *Service) payLevel(ctx context.Context, lr *LevelResult, investmentID, investorID string, amountPaise int64) error {
	return s.inTx(ctx, func(tx Tx) error {
		acct, err := tx.LockAccount(ctx, lr.ReferrerID)
		if err != nil {
			return err
		}
		rate, first := CommissionRateBps(lr.Level, acct.FirstReferralBonusUsed)
		amount := PercentOf(amountPaise, rate)
		inserted, err := tx.InsertCommission(ctx, Commission{
			ID:           uuid.NewString(),
			ReferrerID:   acct.ID,
			InvestorID:   investorID,
			InvestmentID: investmentID,
			Level:        lr.Level,
			RateBps:      rate,
			AmountPaise:  amount,
			FirstBonus:   first,
			CreatedAt:    s.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			lr.Outcome = LevelDuplicate
			lr.AmountPaise, lr.RateBps, lr.FirstBonus = 0, 0, false
			return nil
		}
		lr.Outcome = LevelPaid
		lr.AmountPaise, lr.RateBps, lr.FirstBonus = amount, rate, first
		if amount == 0 {
			return nil
		}
		if first {
			acct.FirstReferralBonusUsed = true
		}
		acct.TotalReferralPaise += amount
		acct.TotalEarnedPaise += amount
		p := NewPosting(&acct)
		if err := p.Credit(amount); err != nil {
			return err
		}
		desc := fmt.Sprintf("Level %d referral commission", lr.Level)
		if first {
			desc = "First referral bonus"
		}
		_, err = p.Post(ctx, tx, TxReferralCredit, amount, investmentID, desc)
		return err
	})
}

// ProcessCascadeTask runs the cascade recorded for investmentID and stores
// the outcome on the task. Done tasks are left alone. A failed task keeps its
// error for the next sweep; levels already paid are not paid again.
func (s *Service) ProcessCascadeTask(ctx context.Context, investmentID string) (CascadeResult, error) {
	var task CascadeTask
	if err := s.inTx(ctx, func(tx Tx) error {
		t, err := tx.LockCascadeTask(ctx, investmentID)
		task = t
		return err
	}); err != nil {
		return CascadeResult{}, err
	}
	if task.Status == CascadeDone {
		return CascadeResult{InvestmentID: investmentID}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.CascadeTimeout)
	res, runErr := s.Distribute(runCtx, task.InvestmentID, task.InvestorID, task.AmountPaise)
	cancel()

	status := CascadeDone
	if runErr != nil {
		status = CascadeFailed
	}
	if err := s.inTx(ctx, func(tx Tx) error {
		t, err := tx.LockCascadeTask(ctx, investmentID)
		if err != nil {
			return err
		}
		if t.Status == CascadeDone {
			return nil
		}
		t.Attempts++
		t.Status = status
		t.LastError = ""
		if runErr != nil {
			t.LastError = truncate(runErr.Error(), 1000)
		}
		t.UpdatedAt = s.now()
		return tx.PutCascadeTask(ctx, t)
	}); err != nil {
		s.log.Error("record cascade task outcome", "investment_id", investmentID, "err", err)
		return res, errors.Join(runErr, err)
	}
	s.metrics.CascadeTask(status)
	return res, runErr
}

// SweepCascadeTasks retries cascade tasks that never ran or failed, up to the
// configured attempt limit.
func (s *Service) SweepCascadeTasks(ctx context.Context, limit int) (SweepSummary, error) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	var out SweepSummary
	tasks, err := s.store.PendingCascadeTasks(ctx, s.now().Add(-cascadeSweepGrace), s.opts.CascadeMaxAttempts, limit)
	if err != nil {
		return out, fmt.Errorf("list pending cascade tasks: %w", err)
	}
	out.Scanned = len(tasks)
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if _, err := s.ProcessCascadeTask(ctx, t.InvestmentID); err != nil {
			out.Failed++
			continue
		}
		out.Done++
	}
	if out.Scanned > 0 {
		s.log.Info("cascade sweep finished", "scanned", out.Scanned, "done", out.Done, "failed", out.Failed)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
