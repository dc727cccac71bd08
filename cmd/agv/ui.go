package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"agrivest/internal/ledger"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptRupees(label string) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		paise, err := ledger.ParseRupees(text)
		if err != nil {
			printWarn("Enter an amount in rupees, e.g. 1500 or 1500.50.")
			continue
		}
		if paise <= 0 {
			printWarn("Amount must be > 0.")
			continue
		}
		return paise, nil
	}
}

func renderAccount(a ledger.Account) {
	accent.Printf("\n== ACCOUNT %s ==\n", strings.ToUpper(a.Name))
	fmt.Printf("%-22s %s\n", "ID", a.ID)
	fmt.Printf("%-22s %s\n", "Referral code", a.ReferralCode)
	if a.ReferrerID != "" {
		fmt.Printf("%-22s %s\n", "Referred by", a.ReferrerID)
	}
	fmt.Printf("%-22s %s\n", "Wallet", formatPaise(a.WalletPaise))
	fmt.Printf("%-22s %s\n", "Locked", formatPaise(a.LockedPaise))
	fmt.Printf("%-22s %s\n", "Total invested", formatPaise(a.TotalInvestedPaise))
	fmt.Printf("%-22s %s\n", "Total earned", colorizePaise(a.TotalEarnedPaise))
	fmt.Printf("%-22s %s\n", "Referral earnings", colorizePaise(a.TotalReferralPaise))
	bonus := "available"
	if a.FirstReferralBonusUsed {
		bonus = "used"
	}
	fmt.Printf("%-22s %s\n\n", "First referral bonus", bonus)
}

func renderInvestment(inv ledger.Investment) {
	printSuccess(fmt.Sprintf("Investment %s opened: %s in %s (%s).", inv.ID, formatPaise(inv.PrincipalPaise), inv.PackageName, sectorOrDash(inv.Sector)))
	fmt.Printf("Daily return %s for %d days, %s to %s.\n\n",
		formatPaise(inv.DailyReturnPaise), inv.DurationDays, inv.StartDate.Format(time.DateOnly), inv.EndDate.Format(time.DateOnly))
}

func renderInvestments(rows []ledger.Investment) {
	accent.Println("\n== INVESTMENTS ==")
	if len(rows) == 0 {
		printInfo("No investments yet.")
		return
	}
	fmt.Printf("%-10s %-10s %-8s %14s %12s %14s %-10s %-10s\n", "ID", "PACKAGE", "SECTOR", "PRINCIPAL", "DAILY", "ACCRUED", "ENDS", "STATUS")
	for _, inv := range rows {
		fmt.Printf("%-10s %-10s %-8s %14s %12s %14s %-10s %-10s\n",
			truncate(inv.ID, 10),
			truncate(inv.PackageName, 10),
			truncate(sectorOrDash(inv.Sector), 8),
			formatPaise(inv.PrincipalPaise),
			formatPaise(inv.DailyReturnPaise),
			formatPaise(inv.AccruedPaise),
			inv.EndDate.Format(time.DateOnly),
			inv.Status,
		)
	}
	fmt.Println()
}

func renderTransactions(rows []ledger.Transaction) {
	accent.Println("\n== TRANSACTIONS ==")
	if len(rows) == 0 {
		printInfo("No transactions yet.")
		return
	}
	fmt.Printf("%-17s %-17s %14s %14s  %s\n", "WHEN", "KIND", "WALLET", "LOCKED", "DESCRIPTION")
	for _, tx := range rows {
		fmt.Printf("%-17s %-17s %14s %14s  %s\n",
			tx.CreatedAt.Local().Format("2006-01-02 15:04"),
			tx.Kind,
			colorizePaise(tx.WalletDeltaPaise),
			colorizePaise(tx.LockedDeltaPaise),
			truncate(tx.Description, 48),
		)
	}
	fmt.Println()
}

func renderWithdrawal(w ledger.Withdrawal, msg string) {
	printSuccess(msg)
	fmt.Printf("%-12s %s\n", "ID", w.ID)
	fmt.Printf("%-12s %s\n", "Amount", formatPaise(w.AmountPaise))
	fmt.Printf("%-12s %s\n", "WC fee", formatPaise(w.WCFeePaise))
	fmt.Printf("%-12s %s\n", "Service fee", formatPaise(w.ServiceFeePaise))
	fmt.Printf("%-12s %s\n", "Net", formatPaise(w.NetPaise))
	fmt.Printf("%-12s %s\n\n", "Status", w.Status)
}

func renderWithdrawals(rows []ledger.Withdrawal) {
	accent.Println("\n== WITHDRAWALS ==")
	if len(rows) == 0 {
		printInfo("No withdrawals.")
		return
	}
	fmt.Printf("%-36s %-10s %14s %14s %-9s %-16s\n", "ID", "ACCOUNT", "AMOUNT", "NET", "STATUS", "REQUESTED")
	for _, w := range rows {
		fmt.Printf("%-36s %-10s %14s %14s %-9s %-16s\n",
			w.ID,
			truncate(w.AccountID, 10),
			formatPaise(w.AmountPaise),
			formatPaise(w.NetPaise),
			w.Status,
			w.RequestedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Println()
}

func renderPackages(rows []ledger.Package) {
	accent.Println("\n== PACKAGES ==")
	if len(rows) == 0 {
		printInfo("No packages configured.")
		return
	}
	fmt.Printf("%-10s %-12s %14s %8s %6s %-7s %s\n", "ID", "NAME", "MINIMUM", "DAILY", "DAYS", "ACTIVE", "SECTORS")
	for _, p := range rows {
		fmt.Printf("%-10s %-12s %14s %7s%% %6d %-7t %s\n",
			p.ID,
			truncate(p.Name, 12),
			formatPaise(p.MinInvestmentPaise),
			formatRate(p.DailyReturnBps),
			p.DurationDays,
			p.Active,
			strings.Join(p.Sectors, ", "),
		)
	}
	fmt.Println()
}

func renderReferralStats(s ledger.ReferralStats) {
	accent.Println("\n== REFERRALS ==")
	fmt.Printf("Total: %d  Active: %d  Earned: %s  First bonus: %t\n", s.TotalReferrals, s.ActiveReferrals, colorizePaise(s.TotalEarnedPaise), s.FirstBonusClaimed)
	if len(s.Referrals) == 0 {
		printInfo("No direct referrals yet.")
		return
	}
	fmt.Printf("%-36s %-18s %-10s %-6s\n", "ACCOUNT", "NAME", "JOINED", "ACTIVE")
	for _, r := range s.Referrals {
		active := danger.Sprint("no")
		if r.Active {
			active = success.Sprint("yes")
		}
		fmt.Printf("%-36s %-18s %-10s %-6s\n", r.AccountID, truncate(r.Name, 18), r.JoinedAt.Format(time.DateOnly), active)
	}
	fmt.Println()
}

func renderCommissions(rows []ledger.Commission) {
	accent.Println("\n== COMMISSIONS ==")
	if len(rows) == 0 {
		printInfo("No commissions yet.")
		return
	}
	fmt.Printf("%-17s %-5s %7s %12s %-10s %-10s\n", "WHEN", "LEVEL", "RATE", "AMOUNT", "INVESTOR", "BONUS")
	for _, c := range rows {
		bonus := ""
		if c.FirstBonus {
			bonus = "first"
		}
		fmt.Printf("%-17s %-5d %6s%% %12s %-10s %-10s\n",
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
			c.Level,
			formatRate(c.RateBps),
			formatPaise(c.AmountPaise),
			truncate(c.InvestorID, 10),
			bonus,
		)
	}
	fmt.Println()
}

func renderLeaderboard(rows []ledger.LeaderboardRow) {
	accent.Println("\n== REFERRAL LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-18s %10s %14s\n", "RANK", "NAME", "REFERRALS", "EARNED")
	for _, row := range rows {
		fmt.Printf("%-6d %-18s %10d %14s\n",
			row.Rank,
			truncate(row.Name, 18),
			row.ReferralCount,
			formatPaise(row.TotalReferralPaise),
		)
	}
	fmt.Println()
}

func renderAccrualSummary(s ledger.AccrualSummary) {
	accent.Printf("\n== ACCRUAL %s ==\n", s.AsOf.Format(time.DateOnly))
	fmt.Printf("Scanned %d  Accrued %d  Matured %d  Skipped %d  Failed %d\n", s.Scanned, s.Accrued, s.Matured, s.Skipped, s.Failed)
	fmt.Printf("Returns accrued %s  Paid out %s  in %dms\n\n", formatPaise(s.AccruedPaise), formatPaise(s.PaidOutPaise), s.DurationMilli)
	if s.Failed > 0 {
		printWarn("Some investments failed; check the API logs and rerun, the run is idempotent per day.")
	}
	if s.MissedDays > 0 {
		printWarn(fmt.Sprintf("%d investment-days were missed and not accrued (catch-up is off).", s.MissedDays))
	}
}

func colorizePaise(v int64) string {
	text := signedPaise(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatPaise(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / ledger.PaisePerRupee
	frac := v % ledger.PaisePerRupee
	return fmt.Sprintf("%s₹%s.%02d", sign, comma(whole), frac)
}

// formatRate renders basis points as a percent with two decimals.
func formatRate(bps int64) string {
	return ledger.FormatPaise(bps)
}

func signedPaise(v int64) string {
	if v > 0 {
		return "+" + formatPaise(v)
	}
	return formatPaise(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func sectorOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
