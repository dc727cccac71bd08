package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaisePerRupee = int64(100)

	// BpsScale is the basis-point denominator: 1% = 100 bps.
	BpsScale = int64(10_000)

	MaxReferralLevels = 4

	FirstReferralBonusBps = int64(2500)

	WithdrawalWCFeeBps      = int64(500)
	WithdrawalServiceFeeBps = int64(500)

	DefaultWithdrawalMinPaise = int64(3000) * PaisePerRupee
)

// levelRateBps is the flat commission rate per cascade level.
var levelRateBps = [MaxReferralLevels + 1]int64{0, 800, 300, 200, 100}

// levelMinActiveReferrals is how many active direct referrals a referrer needs
// to collect at a level. Level 1 has no requirement.
var levelMinActiveReferrals = [MaxReferralLevels + 1]int{0, 0, 1, 2, 3}

var Sectors = []string{"Fish", "Bee", "Poultry", "Dairy"}

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNegativeBalance        = errors.New("balance would go negative")
	ErrNotFound               = errors.New("not found")
	ErrAlreadyTerminal        = errors.New("investment already in a terminal state")
	ErrConcurrentUpdate       = errors.New("concurrent update conflict")
	ErrPackageInactive        = errors.New("package is not active")
	ErrBelowMinimum           = errors.New("amount below package minimum")
	ErrInvalidAmount          = errors.New("amount must be > 0")
	ErrInvalidSector          = errors.New("sector not offered by package")
	ErrUnknownReferralCode    = errors.New("unknown referral code")
	ErrWithdrawalProcessed    = errors.New("withdrawal already processed")
	ErrBelowWithdrawalMinimum = errors.New("amount below withdrawal minimum")
	ErrInvalidInput           = errors.New("invalid input")
)

// PercentOf returns amount * bps / 10000 rounded half-up to whole paise.
func PercentOf(amountPaise, bps int64) int64 {
	if amountPaise <= 0 || bps <= 0 {
		return 0
	}
	v := decimal.NewFromInt(amountPaise).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(BpsScale))
	return v.Round(0).IntPart()
}

// PercentToBps converts a percentage such as 2.5 into basis points.
func PercentToBps(pct float64) int64 {
	return decimal.NewFromFloat(pct).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ParseRupees parses a rupee amount like "1500" or "99.5" into paise.
func ParseRupees(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: amount must be numeric", ErrInvalidInput)
	}
	paise := d.Mul(decimal.NewFromInt(PaisePerRupee))
	if !paise.Equal(paise.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount has more than 2 decimal places", ErrInvalidInput)
	}
	return paise.IntPart(), nil
}

func RupeesToPaise(v int64) int64 {
	return v * PaisePerRupee
}

func FormatPaise(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

// CommissionRateBps returns the rate a referrer earns at level, and whether the
// first-referral bonus applies instead of the level-1 base rate.
func CommissionRateBps(level int, firstBonusUsed bool) (bps int64, firstBonus bool) {
	if level < 1 || level > MaxReferralLevels {
		return 0, false
	}
	if level == 1 && !firstBonusUsed {
		return FirstReferralBonusBps, true
	}
	return levelRateBps[level], false
}

// QualifiesForLevel reports whether a referrer with activeReferrals active
// direct referrals may collect at level.
func QualifiesForLevel(level, activeReferrals int) bool {
	if level < 1 || level > MaxReferralLevels {
		return false
	}
	return activeReferrals >= levelMinActiveReferrals[level]
}

func ValidateSector(sector string, offered []string) (string, error) {
	sector = strings.TrimSpace(sector)
	if sector == "" {
		return "", nil
	}
	if len(offered) == 0 {
		offered = Sectors
	}
	for _, s := range offered {
		if strings.EqualFold(s, sector) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSector, sector)
}

// CivilDate truncates t to its calendar day in loc and returns that day at
// 00:00 UTC, the form stored in DATE columns.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func withdrawalFees(amountPaise int64) (wcFee, serviceFee, net int64) {
	wcFee = PercentOf(amountPaise, WithdrawalWCFeeBps)
	serviceFee = PercentOf(amountPaise, WithdrawalServiceFeeBps)
	return wcFee, serviceFee, amountPaise - wcFee - serviceFee
}
