package postgres

import (
	"agrivest/internal/ledger"
)

const (
	accountColumns = `id, name, referral_code, referrer_id, wallet_paise, locked_paise,
		total_invested_paise, total_earned_paise, total_referral_paise,
		first_referral_bonus_used, version, created_at, updated_at`

	investmentColumns = `id, account_id, package_id, package_name, sector, principal_paise,
		daily_return_bps, daily_return_paise, duration_days, accrued_paise, status,
		start_date, end_date, last_accrual_date, completed_at, created_at`

	packageColumns = `id, name, min_investment_paise, daily_return_bps, duration_days, active, sectors`

	cascadeColumns = `investment_id, investor_id, amount_paise, status, attempts, last_error, created_at, updated_at`

	withdrawalColumns = `id, account_id, amount_paise, wc_fee_paise, service_fee_paise, net_paise,
		status, requested_at, processed_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var a ledger.Account
	var referrer *string
	err := row.Scan(&a.ID, &a.Name, &a.ReferralCode, &referrer, &a.WalletPaise, &a.LockedPaise,
		&a.TotalInvestedPaise, &a.TotalEarnedPaise, &a.TotalReferralPaise,
		&a.FirstReferralBonusUsed, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return ledger.Account{}, notFound(err)
	}
	if referrer != nil {
		a.ReferrerID = *referrer
	}
	return a, nil
}

func scanInvestment(row scanner) (ledger.Investment, error) {
	var inv ledger.Investment
	err := row.Scan(&inv.ID, &inv.AccountID, &inv.PackageID, &inv.PackageName, &inv.Sector, &inv.PrincipalPaise,
		&inv.DailyReturnBps, &inv.DailyReturnPaise, &inv.DurationDays, &inv.AccruedPaise, &inv.Status,
		&inv.StartDate, &inv.EndDate, &inv.LastAccrualDate, &inv.CompletedAt, &inv.CreatedAt)
	if err != nil {
		return ledger.Investment{}, notFound(err)
	}
	return inv, nil
}

func scanPackage(row scanner) (ledger.Package, error) {
	var p ledger.Package
	if err := row.Scan(&p.ID, &p.Name, &p.MinInvestmentPaise, &p.DailyReturnBps, &p.DurationDays, &p.Active, &p.Sectors); err != nil {
		return ledger.Package{}, notFound(err)
	}
	return p, nil
}

func scanCascadeTask(row scanner) (ledger.CascadeTask, error) {
	var t ledger.CascadeTask
	if err := row.Scan(&t.InvestmentID, &t.InvestorID, &t.AmountPaise, &t.Status, &t.Attempts, &t.LastError,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return ledger.CascadeTask{}, notFound(err)
	}
	return t, nil
}

func scanWithdrawal(row scanner) (ledger.Withdrawal, error) {
	var w ledger.Withdrawal
	if err := row.Scan(&w.ID, &w.AccountID, &w.AmountPaise, &w.WCFeePaise, &w.ServiceFeePaise, &w.NetPaise,
		&w.Status, &w.RequestedAt, &w.ProcessedAt); err != nil {
		return ledger.Withdrawal{}, notFound(err)
	}
	return w, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
