package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agrivest/internal/ledger"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM agri.accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) InsertAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agri.accounts (id, name, referral_code, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, a.ID, a.Name, a.ReferralCode, nullIfEmpty(a.ReferrerID), a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s or referral code %s already exists", a.ID, a.ReferralCode)
	}
	return err
}

// UpdateAccount writes balances and counters. Version moves forward by one on
// every write.
func (t *pgTx) UpdateAccount(ctx context.Context, a ledger.Account) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE agri.accounts
		SET name = $2,
		    wallet_paise = $3,
		    locked_paise = $4,
		    total_invested_paise = $5,
		    total_earned_paise = $6,
		    total_referral_paise = $7,
		    first_referral_bonus_used = $8,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $9
	`, a.ID, a.Name, a.WalletPaise, a.LockedPaise, a.TotalInvestedPaise, a.TotalEarnedPaise,
		a.TotalReferralPaise, a.FirstReferralBonusUsed, a.Version)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrConcurrentUpdate
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, line ledger.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agri.transactions
			(id, account_id, kind, amount_paise, wallet_delta_paise, locked_delta_paise, related_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, line.ID, line.AccountID, string(line.Kind), line.AmountPaise, line.WalletDeltaPaise, line.LockedDeltaPaise,
		line.RelatedID, line.Description)
	return err
}

func (t *pgTx) InsertInvestment(ctx context.Context, inv ledger.Investment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agri.investments
			(id, account_id, package_id, package_name, sector, principal_paise, daily_return_bps,
			 daily_return_paise, duration_days, accrued_paise, status, start_date, end_date,
			 last_accrual_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, inv.ID, inv.AccountID, inv.PackageID, inv.PackageName, inv.Sector, inv.PrincipalPaise, inv.DailyReturnBps,
		inv.DailyReturnPaise, inv.DurationDays, inv.AccruedPaise, string(inv.Status), inv.StartDate, inv.EndDate,
		inv.LastAccrualDate, inv.CreatedAt)
	return err
}

func (t *pgTx) LockInvestment(ctx context.Context, id string) (ledger.Investment, error) {
	return scanInvestment(t.tx.QueryRow(ctx, `SELECT `+investmentColumns+` FROM agri.investments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateInvestment(ctx context.Context, inv ledger.Investment) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE agri.investments
		SET accrued_paise = $2,
		    status = $3,
		    last_accrual_date = $4,
		    completed_at = $5
		WHERE id = $1 AND status = 'active'
	`, inv.ID, inv.AccruedPaise, string(inv.Status), inv.LastAccrualDate, inv.CompletedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrAlreadyTerminal
	}
	return nil
}

func (t *pgTx) InsertCommission(ctx context.Context, c ledger.Commission) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO agri.commissions
			(id, referrer_id, investor_id, investment_id, level, rate_bps, amount_paise, first_bonus)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (investment_id, level) DO NOTHING
	`, c.ID, c.ReferrerID, c.InvestorID, c.InvestmentID, c.Level, c.RateBps, c.AmountPaise, c.FirstBonus)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *pgTx) LockCascadeTask(ctx context.Context, investmentID string) (ledger.CascadeTask, error) {
	return scanCascadeTask(t.tx.QueryRow(ctx, `SELECT `+cascadeColumns+` FROM agri.cascade_tasks WHERE investment_id = $1 FOR UPDATE`, investmentID))
}

func (t *pgTx) PutCascadeTask(ctx context.Context, task ledger.CascadeTask) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agri.cascade_tasks
			(investment_id, investor_id, amount_paise, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (investment_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error,
		    updated_at = EXCLUDED.updated_at
	`, task.InvestmentID, task.InvestorID, task.AmountPaise, string(task.Status), task.Attempts, task.LastError,
		task.CreatedAt, task.UpdatedAt)
	return err
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO agri.withdrawals
			(id, account_id, amount_paise, wc_fee_paise, service_fee_paise, net_paise, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.AccountID, w.AmountPaise, w.WCFeePaise, w.ServiceFeePaise, w.NetPaise, string(w.Status), w.RequestedAt)
	return err
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM agri.withdrawals WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE agri.withdrawals
		SET status = $2, processed_at = $3
		WHERE id = $1
	`, w.ID, string(w.Status), w.ProcessedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
