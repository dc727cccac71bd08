package ledger

import "time"

type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

func (s InvestmentStatus) Terminal() bool {
	return s == InvestmentCompleted || s == InvestmentCancelled
}

type TxKind string

const (
	TxInvestmentDebit TxKind = "investment_debit"
	TxReturnCredit    TxKind = "return_credit"
	TxReferralCredit  TxKind = "referral_credit"
	TxWithdrawalDebit TxKind = "withdrawal_debit"
	TxDepositCredit   TxKind = "deposit_credit"
)

type Account struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	ReferralCode           string    `json:"referral_code"`
	ReferrerID             string    `json:"referrer_id,omitempty"`
	WalletPaise            int64     `json:"wallet_paise"`
	LockedPaise            int64     `json:"locked_paise"`
	TotalInvestedPaise     int64     `json:"total_invested_paise"`
	TotalEarnedPaise       int64     `json:"total_earned_paise"`
	TotalReferralPaise     int64     `json:"total_referral_paise"`
	FirstReferralBonusUsed bool      `json:"first_referral_bonus_used"`
	Version                int64     `json:"version"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Package is a snapshot of investment terms. Investments copy the fields they
// need at creation, so later catalog edits never touch open records.
type Package struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	MinInvestmentPaise int64    `json:"min_investment_paise"`
	DailyReturnBps     int64    `json:"daily_return_bps"`
	DurationDays       int      `json:"duration_days"`
	Active             bool     `json:"active"`
	Sectors            []string `json:"sectors"`
}

type Investment struct {
	ID               string           `json:"id"`
	AccountID        string           `json:"account_id"`
	PackageID        string           `json:"package_id"`
	PackageName      string           `json:"package_name"`
	Sector           string           `json:"sector,omitempty"`
	PrincipalPaise   int64            `json:"principal_paise"`
	DailyReturnBps   int64            `json:"daily_return_bps"`
	DailyReturnPaise int64            `json:"daily_return_paise"`
	DurationDays     int              `json:"duration_days"`
	AccruedPaise     int64            `json:"accrued_paise"`
	Status           InvestmentStatus `json:"status"`
	StartDate        time.Time        `json:"start_date"`
	EndDate          time.Time        `json:"end_date"`
	LastAccrualDate  time.Time        `json:"last_accrual_date"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Transaction is one append-only ledger line. WalletDeltaPaise and
// LockedDeltaPaise are the signed balance changes it caused.
type Transaction struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	Kind             TxKind    `json:"kind"`
	AmountPaise      int64     `json:"amount_paise"`
	WalletDeltaPaise int64     `json:"wallet_delta_paise"`
	LockedDeltaPaise int64     `json:"locked_delta_paise"`
	RelatedID        string    `json:"related_id,omitempty"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

type Commission struct {
	ID           string    `json:"id"`
	ReferrerID   string    `json:"referrer_id"`
	InvestorID   string    `json:"investor_id"`
	InvestmentID string    `json:"investment_id"`
	Level        int       `json:"level"`
	RateBps      int64     `json:"rate_bps"`
	AmountPaise  int64     `json:"amount_paise"`
	FirstBonus   bool      `json:"first_bonus"`
	CreatedAt    time.Time `json:"created_at"`
}

type CascadeStatus string

const (
	CascadePending CascadeStatus = "pending"
	CascadeDone    CascadeStatus = "done"
	CascadeFailed  CascadeStatus = "failed"
)

// CascadeTask is the durable hand-off between an opened investment and the
// commission cascade. It is written in the same unit of work as the investment.
type CascadeTask struct {
	InvestmentID string        `json:"investment_id"`
	InvestorID   string        `json:"investor_id"`
	AmountPaise  int64         `json:"amount_paise"`
	Status       CascadeStatus `json:"status"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type SweepSummary struct {
	Scanned int `json:"scanned"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type WithdrawalFilter struct {
	AccountID string
	Status    WithdrawalStatus
}

type Withdrawal struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"account_id"`
	AmountPaise     int64            `json:"amount_paise"`
	WCFeePaise      int64            `json:"wc_fee_paise"`
	ServiceFeePaise int64            `json:"service_fee_paise"`
	NetPaise        int64            `json:"net_paise"`
	Status          WithdrawalStatus `json:"status"`
	RequestedAt     time.Time        `json:"requested_at"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
}

type OpenInvestmentInput struct {
	AccountID   string
	Package     Package
	Sector      string
	AmountPaise int64
}

type RegisterInput struct {
	Name         string
	ReferralCode string
}

// AccrualSummary is what one RunDailyAccrual pass reports to operators.
type AccrualSummary struct {
	AsOf          time.Time `json:"as_of"`
	Scanned       int       `json:"scanned"`
	Accrued       int       `json:"accrued"`
	Matured       int       `json:"matured"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	MissedDays    int       `json:"missed_days"`
	AccruedPaise  int64     `json:"accrued_paise"`
	PaidOutPaise  int64     `json:"paid_out_paise"`
	DurationMilli int64     `json:"duration_ms"`
}

type LevelOutcome string

const (
	LevelPaid        LevelOutcome = "paid"
	LevelUnqualified LevelOutcome = "unqualified"
	LevelDuplicate   LevelOutcome = "duplicate"
	LevelFailed      LevelOutcome = "failed"
)

type LevelResult struct {
	Level       int          `json:"level"`
	ReferrerID  string       `json:"referrer_id"`
	Outcome     LevelOutcome `json:"outcome"`
	AmountPaise int64        `json:"amount_paise,omitempty"`
	RateBps     int64        `json:"rate_bps,omitempty"`
	FirstBonus  bool         `json:"first_bonus,omitempty"`
	Err         string       `json:"error,omitempty"`
}

type CascadeResult struct {
	InvestmentID string        `json:"investment_id"`
	Levels       []LevelResult `json:"levels"`
}

func (r CascadeResult) PaidPaise() int64 {
	var total int64
	for _, l := range r.Levels {
		if l.Outcome == LevelPaid {
			total += l.AmountPaise
		}
	}
	return total
}

type ReferralView struct {
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joined_at"`
	Active    bool      `json:"active"`
}

type ReferralStats struct {
	TotalReferrals    int            `json:"total_referrals"`
	ActiveReferrals   int            `json:"active_referrals"`
	TotalEarnedPaise  int64          `json:"total_earned_paise"`
	FirstBonusClaimed bool           `json:"first_bonus_claimed"`
	Referrals         []ReferralView `json:"referrals"`
}

type LeaderboardRow struct {
	Rank               int64  `json:"rank"`
	AccountID          string `json:"account_id"`
	Name               string `json:"name"`
	ReferralCount      int64  `json:"referral_count"`
	TotalReferralPaise int64  `json:"total_referral_paise"`
}
