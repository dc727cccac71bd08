package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/agrivest")
	t.Setenv("AGRIVEST_ADMIN_TOKEN", "secret")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Store != StorePostgres || cfg.AccrualCron != "0 5 0 * * *" || cfg.SweepCron != "@every 1m" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Kolkata" {
		t.Fatalf("location=%v", cfg.Location)
	}
	if cfg.CascadeTimeout != 30*time.Second || cfg.CascadeMaxAttempts != 5 {
		t.Fatalf("cascade defaults: %+v", cfg)
	}
	if cfg.WithdrawalMinPaise != 300_000 {
		t.Fatalf("withdrawal minimum=%d", cfg.WithdrawalMinPaise)
	}
	opts := cfg.LedgerOptions()
	if opts.ActiveReferralCurrentOnly || opts.CatchUpMissedDays {
		t.Fatalf("unexpected ledger options: %+v", opts)
	}
}

func TestLoadAPIFromEnvRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AGRIVEST_ADMIN_TOKEN", "secret")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/agrivest")
	t.Setenv("AGRIVEST_ADMIN_TOKEN", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing admin token to fail")
	}
	if _, err := LoadWorkerFromEnv(); err != nil {
		t.Fatalf("worker should not need the admin token: %v", err)
	}
}

func TestLoadMemoryStoreWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AGRIVEST_STORE", "memory")
	t.Setenv("AGRIVEST_ACTIVE_REFERRAL_POLICY", "current")
	t.Setenv("AGRIVEST_LOG_LEVEL", "debug")
	t.Setenv("AGRIVEST_TIMEZONE", "UTC")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.LedgerOptions().ActiveReferralCurrentOnly {
		t.Fatalf("expected current-only policy")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level=%v", cfg.LogLevel)
	}
}

func TestWorkerMetricsAddr(t *testing.T) {
	t.Setenv("AGRIVEST_STORE", "memory")
	t.Setenv("AGRIVEST_WORKER_METRICS_ADDR", "")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerMetricsAddr != ":9091" {
		t.Fatalf("default metrics addr=%q", cfg.WorkerMetricsAddr)
	}

	t.Setenv("AGRIVEST_WORKER_METRICS_ADDR", "OFF")
	cfg, err = LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerMetricsAddr != "" {
		t.Fatalf("metrics addr should be disabled, got %q", cfg.WorkerMetricsAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/agrivest")
	tests := []struct {
		key   string
		value string
	}{
		{key: "AGRIVEST_STORE", value: "mongo"},
		{key: "AGRIVEST_ACTIVE_REFERRAL_POLICY", value: "sometimes"},
		{key: "AGRIVEST_TIMEZONE", value: "Mars/Olympus"},
		{key: "AGRIVEST_ACCRUAL_WORKERS", value: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := LoadWorkerFromEnv(); err == nil {
				t.Fatalf("expected %s=%s to fail", tc.key, tc.value)
			}
		})
	}
}

func TestParseCatalog(t *testing.T) {
	raw := []byte(`
packages:
  - id: Silver
    name: Silver
    min_investment: 1000
    daily_return_percent: 3
    duration_days: 30
    sectors: [fish, bee]
  - id: seasonal
    name: Seasonal
    min_investment: "2500.50"
    daily_return_percent: 2.25
    duration_days: 45
    active: false
`)
	pkgs, err := ParseCatalog(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages", len(pkgs))
	}
	silver := pkgs[0]
	if silver.ID != "silver" || silver.MinInvestmentPaise != 100_000 || silver.DailyReturnBps != 300 || !silver.Active {
		t.Fatalf("silver=%+v", silver)
	}
	if len(silver.Sectors) != 2 || silver.Sectors[0] != "Fish" || silver.Sectors[1] != "Bee" {
		t.Fatalf("silver sectors=%v", silver.Sectors)
	}
	seasonal := pkgs[1]
	if seasonal.MinInvestmentPaise != 250_050 || seasonal.DailyReturnBps != 225 || seasonal.Active {
		t.Fatalf("seasonal=%+v", seasonal)
	}
	if len(seasonal.Sectors) != 4 {
		t.Fatalf("expected all sectors by default, got %v", seasonal.Sectors)
	}
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	invalid := []string{
		`packages: []`,
		"packages:\n  - id: a\n    name: A\n    min_investment: 0\n    daily_return_percent: 1\n    duration_days: 30\n",
		"packages:\n  - id: a\n    name: A\n    min_investment: 10\n    daily_return_percent: 1.234\n    duration_days: 30\n",
		"packages:\n  - id: a\n    name: A\n    min_investment: 10\n    daily_return_percent: 1\n    duration_days: 0\n",
		"packages:\n  - id: a\n    name: A\n    min_investment: 10\n    daily_return_percent: 1\n    duration_days: 30\n    sectors: [goat]\n",
		"packages:\n  - id: a\n    name: A\n    min_investment: 10\n    daily_return_percent: 1\n    duration_days: 30\n  - id: A\n    name: B\n    min_investment: 10\n    daily_return_percent: 1\n    duration_days: 30\n",
	}
	for _, raw := range invalid {
		if _, err := ParseCatalog([]byte(raw)); err == nil {
			t.Fatalf("expected catalog to fail:\n%s", raw)
		}
	}
}

func TestDefaultCatalog(t *testing.T) {
	pkgs, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int64{"silver": 300, "gold": 500, "diamond": 1000}
	for _, p := range pkgs {
		if want[p.ID] != p.DailyReturnBps {
			t.Fatalf("%s bps=%d", p.ID, p.DailyReturnBps)
		}
	}
}
