package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{amount: 100_000, bps: 500, want: 5_000},
		{amount: 100_000, bps: 800, want: 8_000},
		{amount: 100_000, bps: 2500, want: 25_000},
		{amount: 333, bps: 150, want: 5},  // 4.995 rounds up
		{amount: 330, bps: 150, want: 5},  // 4.95 rounds up
		{amount: 310, bps: 150, want: 5},  // 4.65 rounds up
		{amount: 290, bps: 150, want: 4},  // 4.35 rounds down
		{amount: 100, bps: 50, want: 1},   // 0.5 rounds half-up
		{amount: 0, bps: 500, want: 0},
		{amount: 1000, bps: 0, want: 0},
		{amount: -1000, bps: 500, want: 0},
	}
	for _, tc := range tests {
		got := PercentOf(tc.amount, tc.bps)
		if got != tc.want {
			t.Fatalf("PercentOf(%d, %d) got=%d want=%d", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestParseRupees(t *testing.T) {
	valid := map[string]int64{
		"1000":    100_000,
		"99.5":    9_950,
		" 12.34 ": 1_234,
		"0.01":    1,
	}
	for in, want := range valid {
		got, err := ParseRupees(in)
		if err != nil {
			t.Fatalf("ParseRupees(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseRupees(%q) got=%d want=%d", in, got, want)
		}
	}

	invalid := []string{"", "abc", "1.234", "1,000"}
	for _, in := range invalid {
		if _, err := ParseRupees(in); err == nil {
			t.Fatalf("expected %q to fail", in)
		}
	}
}

func TestFormatPaise(t *testing.T) {
	if got := FormatPaise(250_000); got != "2500.00" {
		t.Fatalf("got %q", got)
	}
	if got := FormatPaise(5); got != "0.05" {
		t.Fatalf("got %q", got)
	}
}

func TestPercentToBps(t *testing.T) {
	if got := PercentToBps(5); got != 500 {
		t.Fatalf("got %d", got)
	}
	if got := PercentToBps(2.5); got != 250 {
		t.Fatalf("got %d", got)
	}
}

func TestCommissionRateBps(t *testing.T) {
	tests := []struct {
		level     int
		firstUsed bool
		wantBps   int64
		wantFirst bool
	}{
		{level: 1, firstUsed: false, wantBps: 2500, wantFirst: true},
		{level: 1, firstUsed: true, wantBps: 800},
		{level: 2, firstUsed: false, wantBps: 300},
		{level: 3, firstUsed: false, wantBps: 200},
		{level: 4, firstUsed: true, wantBps: 100},
		{level: 5, firstUsed: false, wantBps: 0},
		{level: 0, firstUsed: false, wantBps: 0},
	}
	for _, tc := range tests {
		bps, first := CommissionRateBps(tc.level, tc.firstUsed)
		if bps != tc.wantBps || first != tc.wantFirst {
			t.Fatalf("level=%d used=%v got=(%d,%v) want=(%d,%v)", tc.level, tc.firstUsed, bps, first, tc.wantBps, tc.wantFirst)
		}
	}
}

func TestQualifiesForLevel(t *testing.T) {
	tests := []struct {
		level  int
		active int
		want   bool
	}{
		{level: 1, active: 0, want: true},
		{level: 2, active: 0, want: false},
		{level: 2, active: 1, want: true},
		{level: 3, active: 1, want: false},
		{level: 3, active: 2, want: true},
		{level: 4, active: 2, want: false},
		{level: 4, active: 3, want: true},
		{level: 5, active: 10, want: false},
	}
	for _, tc := range tests {
		if got := QualifiesForLevel(tc.level, tc.active); got != tc.want {
			t.Fatalf("level=%d active=%d got=%v want=%v", tc.level, tc.active, got, tc.want)
		}
	}
}

func TestValidateSector(t *testing.T) {
	got, err := ValidateSector("poultry", nil)
	if err != nil || got != "Poultry" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if got, err := ValidateSector("", []string{"Fish"}); err != nil || got != "" {
		t.Fatalf("empty sector should pass, got=%q err=%v", got, err)
	}
	if _, err := ValidateSector("Dairy", []string{"Fish", "Bee"}); !errors.Is(err, ErrInvalidSector) {
		t.Fatalf("expected ErrInvalidSector, got %v", err)
	}
}

func TestCivilDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 15th is already the 16th in IST.
	got := CivilDate(time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC), ist)
	want := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestWithdrawalFees(t *testing.T) {
	wc, svc, net := withdrawalFees(300_000)
	if wc != 15_000 || svc != 15_000 || net != 270_000 {
		t.Fatalf("got wc=%d svc=%d net=%d", wc, svc, net)
	}
}

func TestPlanAccrual(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	day := func(n int) time.Time { return start.AddDate(0, 0, n) }
	inv := Investment{
		Status:          InvestmentActive,
		StartDate:       start,
		EndDate:         day(30),
		LastAccrualDate: start,
	}

	tests := []struct {
		name     string
		last     time.Time
		status   InvestmentStatus
		today    time.Time
		catchUp  bool
		want     accrualAction
		wantDays int
	}{
		{name: "same day as start", last: start, today: start, want: accrualSkip},
		{name: "first day", last: start, today: day(1), want: accrualAccrue, wantDays: 1},
		{name: "already ran today", last: day(5), today: day(5), want: accrualSkip},
		{name: "clock went back", last: day(6), today: day(5), want: accrualSkip},
		{name: "end date accrues", last: day(29), today: day(30), want: accrualAccrue, wantDays: 1},
		{name: "day after end matures", last: day(30), today: day(31), want: accrualMature},
		{name: "missed days without catch-up", last: day(2), today: day(5), want: accrualAccrue, wantDays: 1},
		{name: "missed days with catch-up", last: day(2), today: day(5), catchUp: true, want: accrualAccrue, wantDays: 3},
		{name: "catch-up capped at end", last: day(27), today: day(40), catchUp: true, want: accrualMature, wantDays: 3},
		{name: "terminal", last: day(3), today: day(40), status: InvestmentCompleted, want: accrualSkip},
		{name: "cancelled", last: day(3), today: day(4), status: InvestmentCancelled, want: accrualSkip},
	}
	for _, tc := range tests {
		rec := inv
		rec.LastAccrualDate = tc.last
		if tc.status != "" {
			rec.Status = tc.status
		}
		got := planAccrual(rec, tc.today, tc.catchUp)
		if got.action != tc.want || got.days != tc.wantDays {
			t.Fatalf("%s: got=%+v want action=%d days=%d", tc.name, got, tc.want, tc.wantDays)
		}
	}
}

func TestPostingGuards(t *testing.T) {
	acct := Account{ID: "a", WalletPaise: 1_000, LockedPaise: 500}
	p := NewPosting(&acct)
	if err := p.Debit(1_001); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := p.MoveToLocked(1_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Debit(1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected wallet to be exhausted, got %v", err)
	}
	if err := p.ReleaseFromLocked(1_501); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
	if err := p.ReleaseFromLocked(1_500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.walletDelta != 500 || p.lockedDelta != -500 {
		t.Fatalf("got wallet delta=%d locked delta=%d", p.walletDelta, p.lockedDelta)
	}
	if err := p.Credit(-1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
