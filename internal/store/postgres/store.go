// Package postgres implements ledger.Store on PostgreSQL through pgx. Units of
// work run at SERIALIZABLE isolation with row locks taken by SELECT ... FOR
// UPDATE.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agrivest/internal/ledger"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	err = func() error {
		defer tx.Rollback(ctx)
		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}()
	if isSerializationError(err) {
		return ledger.ErrConcurrentUpdate
	}
	return err
}

func (s *Store) Account(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM agri.accounts WHERE id = $1`, id))
}

func (s *Store) AccountByReferralCode(ctx context.Context, code string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM agri.accounts WHERE referral_code = $1`, code))
}

func (s *Store) ReferrerOf(ctx context.Context, accountID string) (string, error) {
	var referrer *string
	err := s.db.QueryRow(ctx, `SELECT referrer_id FROM agri.accounts WHERE id = $1`, accountID).Scan(&referrer)
	if err != nil {
		return "", notFound(err)
	}
	if referrer == nil {
		return "", nil
	}
	return *referrer, nil
}

func (s *Store) ActiveReferralCount(ctx context.Context, accountID string, currentOnly bool) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM agri.accounts a
		WHERE a.referrer_id = $1
		  AND EXISTS (
			SELECT 1 FROM agri.investments i
			WHERE i.account_id = a.id
			  AND (NOT $2::boolean OR i.status = 'active')
		  )
	`, accountID, currentOnly).Scan(&n)
	return n, err
}

func (s *Store) DirectReferrals(ctx context.Context, accountID string) ([]ledger.ReferralView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.name, a.created_at,
		       EXISTS (SELECT 1 FROM agri.investments i WHERE i.account_id = a.id)
		FROM agri.accounts a
		WHERE a.referrer_id = $1
		ORDER BY a.created_at, a.id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ReferralView{}
	for rows.Next() {
		var r ledger.ReferralView
		if err := rows.Scan(&r.AccountID, &r.Name, &r.JoinedAt, &r.Active); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]ledger.LeaderboardRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.name, COUNT(a.id) AS referral_count, r.total_referral_paise
		FROM agri.accounts r
		JOIN agri.accounts a ON a.referrer_id = r.id
		GROUP BY r.id, r.name, r.total_referral_paise
		ORDER BY referral_count DESC, r.total_referral_paise DESC, r.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.LeaderboardRow{}
	var rank int64 = 1
	for rows.Next() {
		var r ledger.LeaderboardRow
		if err := rows.Scan(&r.AccountID, &r.Name, &r.ReferralCount, &r.TotalReferralPaise); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Investment(ctx context.Context, id string) (ledger.Investment, error) {
	return scanInvestment(s.db.QueryRow(ctx, `SELECT `+investmentColumns+` FROM agri.investments WHERE id = $1`, id))
}

func (s *Store) ActiveInvestmentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM agri.investments
		WHERE status = 'active'
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListInvestments(ctx context.Context, accountID string) ([]ledger.Investment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+investmentColumns+`
		FROM agri.investments
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Investment{}
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 1_000_000
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, kind, amount_paise, wallet_delta_paise, locked_delta_paise,
		       related_id, description, created_at
		FROM agri.transactions
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Kind, &t.AmountPaise, &t.WalletDeltaPaise, &t.LockedDeltaPaise,
			&t.RelatedID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListCommissions(ctx context.Context, referrerID string) ([]ledger.Commission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, referrer_id, investor_id, investment_id, level, rate_bps, amount_paise, first_bonus, created_at
		FROM agri.commissions
		WHERE referrer_id = $1
		ORDER BY seq DESC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Commission{}
	for rows.Next() {
		var c ledger.Commission
		if err := rows.Scan(&c.ID, &c.ReferrerID, &c.InvestorID, &c.InvestmentID, &c.Level, &c.RateBps,
			&c.AmountPaise, &c.FirstBonus, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Package(ctx context.Context, id string) (ledger.Package, error) {
	return scanPackage(s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM agri.packages WHERE id = $1`, id))
}

func (s *Store) ListPackages(ctx context.Context) ([]ledger.Package, error) {
	rows, err := s.db.Query(ctx, `SELECT `+packageColumns+` FROM agri.packages ORDER BY min_investment_paise, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Package{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPackage(ctx context.Context, p ledger.Package) error {
	sectors := p.Sectors
	if sectors == nil {
		sectors = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO agri.packages (id, name, min_investment_paise, daily_return_bps, duration_days, active, sectors, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    min_investment_paise = EXCLUDED.min_investment_paise,
		    daily_return_bps = EXCLUDED.daily_return_bps,
		    duration_days = EXCLUDED.duration_days,
		    active = EXCLUDED.active,
		    sectors = EXCLUDED.sectors,
		    updated_at = now()
	`, p.ID, p.Name, p.MinInvestmentPaise, p.DailyReturnBps, p.DurationDays, p.Active, sectors)
	return err
}

func (s *Store) PendingCascadeTasks(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]ledger.CascadeTask, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+cascadeColumns+`
		FROM agri.cascade_tasks
		WHERE status <> 'done' AND attempts < $1 AND updated_at < $2
		ORDER BY created_at, investment_id
		LIMIT $3
	`, maxAttempts, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.CascadeTask{}
	for rows.Next() {
		t, err := scanCascadeTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Withdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	return scanWithdrawal(s.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM agri.withdrawals WHERE id = $1`, id))
}

func (s *Store) ListWithdrawals(ctx context.Context, f ledger.WithdrawalFilter) ([]ledger.Withdrawal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM agri.withdrawals
		WHERE ($1::text = '' OR status = $1::text)
		  AND ($2::text = '' OR account_id = $2::text)
		ORDER BY requested_at DESC, id DESC
	`, string(f.Status), f.AccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}
