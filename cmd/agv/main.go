package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cl "agrivest/internal/cli"
	"agrivest/internal/config"
	"agrivest/internal/ledger"
)

const requestTimeout = 30 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:           "agv",
		Short:         "Agrivest operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newAccountsCmd(&apiBase),
		newInvestCmd(&apiBase),
		newInvestmentsCmd(&apiBase),
		newTopUpCmd(&apiBase),
		newWithdrawalsCmd(&apiBase),
		newAccrualCmd(&apiBase),
		newCascadeCmd(&apiBase),
		newReferralsCmd(&apiBase),
		newPackagesCmd(&apiBase),
		newTransactionsCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

// newClient prefers an explicit --api flag, then the URL saved at login.
func newClient(cmd *cobra.Command, apiBase *string) *cl.Client {
	base := strings.TrimSpace(*apiBase)
	token := ""
	sess, err := cl.LoadSession()
	switch {
	case err == nil:
		token = sess.AdminToken
		if !cmd.Flags().Changed("api") && sess.BaseURL != "" {
			base = sess.BaseURL
		}
	case !errors.Is(err, cl.ErrNoSession):
		printWarn(fmt.Sprintf("ignoring saved session: %v", err))
	}
	return cl.NewClient(base, token)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save the admin token for admin commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptRequired("Admin token")
			if err != nil {
				return err
			}
			base := strings.TrimRight(strings.TrimSpace(*apiBase), "/")
			client := cl.NewClient(base, token)
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			// Any admin read proves the token.
			if _, err := client.ListWithdrawals(ctx, string(ledger.WithdrawalPending)); err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			if err := cl.SaveSession(cl.Session{AdminToken: token, BaseURL: base}); err != nil {
				return err
			}
			printSuccess("Login successful. Session saved.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAccountsCmd(apiBase *string) *cobra.Command {
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "Create and inspect accounts",
	}
	var referralCode string
	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Register an account, optionally under a referral code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := argOrPrompt(args, 0, "Name")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			acct, err := newClient(cmd, apiBase).CreateAccount(ctx, name, referralCode)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Account created. Referral code %s.", acct.ReferralCode))
			renderAccount(acct)
			return nil
		},
	}
	create.Flags().StringVar(&referralCode, "referral-code", "", "referral code of the referring account")
	accounts.AddCommand(create)
	accounts.AddCommand(&cobra.Command{
		Use:   "show [account_id]",
		Short: "Show balances and counters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			acct, err := newClient(cmd, apiBase).Account(ctx, id)
			if err != nil {
				return err
			}
			renderAccount(acct)
			return nil
		},
	})
	return accounts
}

func newInvestCmd(apiBase *string) *cobra.Command {
	var packageID, sector, amount string
	cmd := &cobra.Command{
		Use:   "invest [account_id]",
		Short: "Open an investment from the account wallet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			if strings.TrimSpace(packageID) == "" {
				if packageID, err = promptRequired("Package"); err != nil {
					return err
				}
			}
			if strings.TrimSpace(sector) == "" {
				if sector, err = promptOptional("Sector (" + strings.Join(ledger.Sectors, "/") + ", optional)"); err != nil {
					return err
				}
			}
			paise, err := amountOrPrompt(amount, "Amount (rupees)")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			inv, err := newClient(cmd, apiBase).OpenInvestment(ctx, id, packageID, sector, paise)
			if err != nil {
				return err
			}
			renderInvestment(inv)
			return nil
		},
	}
	cmd.Flags().StringVar(&packageID, "package", "", "package id")
	cmd.Flags().StringVar(&sector, "sector", "", "sector")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in rupees")
	return cmd
}

func newInvestmentsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "investments [account_id]",
		Short: "List an account's investments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(cmd, apiBase).ListInvestments(ctx, id)
			if err != nil {
				return err
			}
			renderInvestments(rows)
			return nil
		},
	}
}

func newTopUpCmd(apiBase *string) *cobra.Command {
	var amount, reference string
	cmd := &cobra.Command{
		Use:   "topup [account_id]",
		Short: "Credit an approved deposit to a wallet (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			paise, err := amountOrPrompt(amount, "Amount (rupees)")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			line, err := newClient(cmd, apiBase).TopUp(ctx, id, paise, reference)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Credited %s to %s (transaction %s).", formatPaise(line.AmountPaise), id, line.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in rupees")
	cmd.Flags().StringVar(&reference, "reference", "", "payment reference, e.g. a UTR number")
	return cmd
}

func newWithdrawalsCmd(apiBase *string) *cobra.Command {
	withdrawals := &cobra.Command{
		Use:   "withdrawals",
		Short: "Request and process withdrawals",
	}

	var amount string
	request := &cobra.Command{
		Use:   "request [account_id]",
		Short: "Request a withdrawal; the wallet is debited on approval",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			paise, err := amountOrPrompt(amount, "Amount (rupees)")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			w, err := newClient(cmd, apiBase).RequestWithdrawal(ctx, id, paise)
			if err != nil {
				return err
			}
			renderWithdrawal(w, "Withdrawal requested.")
			return nil
		},
	}
	request.Flags().StringVar(&amount, "amount", "", "amount in rupees")

	var status, accountID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List withdrawals (admin, or one account with --account)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			client := newClient(cmd, apiBase)
			var (
				rows []ledger.Withdrawal
				err  error
			)
			if id := strings.TrimSpace(accountID); id != "" {
				// An account's history covers every status unless asked otherwise.
				filter := ""
				if cmd.Flags().Changed("status") {
					filter = status
				}
				rows, err = client.AccountWithdrawals(ctx, id, filter)
			} else {
				rows, err = client.ListWithdrawals(ctx, status)
			}
			if err != nil {
				return err
			}
			renderWithdrawals(rows)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "pending", "pending, approved, rejected or empty for all")
	list.Flags().StringVar(&accountID, "account", "", "only this account's withdrawals (no admin token needed)")

	withdrawals.AddCommand(request, list,
		&cobra.Command{
			Use:   "approve [withdrawal_id]",
			Short: "Approve a pending withdrawal and debit the wallet (admin)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := argOrPrompt(args, 0, "Withdrawal ID")
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				w, err := newClient(cmd, apiBase).ApproveWithdrawal(ctx, id)
				if err != nil {
					return err
				}
				renderWithdrawal(w, "Withdrawal approved.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "reject [withdrawal_id]",
			Short: "Reject a pending withdrawal (admin)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := argOrPrompt(args, 0, "Withdrawal ID")
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				w, err := newClient(cmd, apiBase).RejectWithdrawal(ctx, id)
				if err != nil {
					return err
				}
				renderWithdrawal(w, "Withdrawal rejected.")
				return nil
			},
		},
	)
	return withdrawals
}

func newAccrualCmd(apiBase *string) *cobra.Command {
	accrual := &cobra.Command{
		Use:   "accrual",
		Short: "Daily accrual controls",
	}
	var asOf string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the daily accrual now (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v := strings.TrimSpace(asOf); v != "" {
				if _, err := time.Parse(time.DateOnly, v); err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD")
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			summary, err := newClient(cmd, apiBase).RunAccrual(ctx, asOf)
			if err != nil {
				return err
			}
			renderAccrualSummary(summary)
			return nil
		},
	}
	run.Flags().StringVar(&asOf, "as-of", "", "accrual date YYYY-MM-DD (default today)")
	accrual.AddCommand(run)
	return accrual
}

func newCascadeCmd(apiBase *string) *cobra.Command {
	cascade := &cobra.Command{
		Use:   "cascade",
		Short: "Referral cascade maintenance",
	}
	var limit int
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Retry pending or failed commission cascades (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			out, err := newClient(cmd, apiBase).CascadeSweep(ctx, limit)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Sweep complete: scanned=%d done=%d failed=%d", out.Scanned, out.Done, out.Failed)
			if out.Failed > 0 {
				printWarn(msg)
				return nil
			}
			printSuccess(msg)
			return nil
		},
	}
	sweep.Flags().IntVar(&limit, "limit", ledger.DefaultSweepLimit, "maximum tasks to retry")
	cascade.AddCommand(sweep)
	return cascade
}

func newReferralsCmd(apiBase *string) *cobra.Command {
	referrals := &cobra.Command{
		Use:   "referrals",
		Short: "Referral network views",
	}
	referrals.AddCommand(&cobra.Command{
		Use:   "stats [account_id]",
		Short: "Direct referrals and commission totals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			stats, err := newClient(cmd, apiBase).ReferralStats(ctx, id)
			if err != nil {
				return err
			}
			renderReferralStats(stats)
			return nil
		},
	})
	referrals.AddCommand(&cobra.Command{
		Use:   "commissions [account_id]",
		Short: "Commission history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(cmd, apiBase).Commissions(ctx, id)
			if err != nil {
				return err
			}
			renderCommissions(rows)
			return nil
		},
	})
	var limit int
	leaderboard := &cobra.Command{
		Use:   "leaderboard",
		Short: "Top referrers by direct referral count",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(cmd, apiBase).Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	leaderboard.Flags().IntVar(&limit, "limit", ledger.DefaultLeaderboardLimit, "rows to show")
	referrals.AddCommand(leaderboard)
	return referrals
}

func newPackagesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List investment packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(cmd, apiBase).Packages(ctx)
			if err != nil {
				return err
			}
			renderPackages(rows)
			return nil
		},
	}
}

func newTransactionsCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transactions [account_id]",
		Short: "Ledger lines for an account, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argOrPrompt(args, 0, "Account ID")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(cmd, apiBase).Transactions(ctx, id, limit)
			if err != nil {
				return err
			}
			renderTransactions(rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "lines to show")
	return cmd
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx {
		if v := strings.TrimSpace(args[idx]); v != "" {
			return v, nil
		}
	}
	return promptRequired(label)
}

func amountOrPrompt(flagValue, label string) (int64, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		paise, err := ledger.ParseRupees(v)
		if err != nil {
			return 0, err
		}
		if paise <= 0 {
			return 0, ledger.ErrInvalidAmount
		}
		return paise, nil
	}
	return promptRupees(label)
}
