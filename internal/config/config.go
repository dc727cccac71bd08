package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"agrivest/internal/ledger"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Addr        string
	DatabaseURL string
	DBMaxConns  int
	Store       string
	AdminToken  string
	LogLevel    slog.Level

	Timezone string
	Location *time.Location

	AccrualCron    string
	SweepCron      string
	AccrualWorkers int
	CatchUp        bool
	// ActiveReferralPolicy is "ever" (any investment counts) or "current"
	// (only investments still active count).
	ActiveReferralPolicy string

	CascadeWorkers     int
	CascadeQueue       int
	CascadeMaxAttempts int
	CascadeTimeout     time.Duration

	MigrateOnStart bool
	CatalogPath    string
	SeedPackages   bool
	EmbedScheduler bool
	// WorkerMetricsAddr is where the worker serves /metrics. "off" in the
	// environment leaves it empty, which disables the listener.
	WorkerMetricsAddr string

	RateLimitRPS   float64
	RateLimitBurst int

	WithdrawalMinPaise int64
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv loads a .env file from the working directory when there is one.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (Config, error) {
	cfg, err := load()
	if err != nil {
		return cfg, err
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("AGRIVEST_ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (Config, error) {
	return load()
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("AGV_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func load() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("AGRIVEST_API_ADDR", ":8080")
	}

	cfg := Config{
		Addr:                 addr,
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:           envIntDefault("AGRIVEST_DB_MAX_CONNS", 20),
		Store:                strings.ToLower(envDefault("AGRIVEST_STORE", StorePostgres)),
		AdminToken:           strings.TrimSpace(os.Getenv("AGRIVEST_ADMIN_TOKEN")),
		LogLevel:             envLogLevel("AGRIVEST_LOG_LEVEL", slog.LevelInfo),
		Timezone:             envDefault("AGRIVEST_TIMEZONE", "Asia/Kolkata"),
		AccrualCron:          envDefault("AGRIVEST_ACCRUAL_CRON", "0 5 0 * * *"),
		SweepCron:            envDefault("AGRIVEST_SWEEP_CRON", "@every 1m"),
		AccrualWorkers:       envIntDefault("AGRIVEST_ACCRUAL_WORKERS", 1),
		CatchUp:              envBoolDefault("AGRIVEST_ACCRUAL_CATCH_UP", false),
		ActiveReferralPolicy: strings.ToLower(envDefault("AGRIVEST_ACTIVE_REFERRAL_POLICY", "ever")),
		CascadeWorkers:       envIntDefault("AGRIVEST_CASCADE_WORKERS", 2),
		CascadeQueue:         envIntDefault("AGRIVEST_CASCADE_QUEUE", 256),
		CascadeMaxAttempts:   envIntDefault("AGRIVEST_CASCADE_MAX_ATTEMPTS", 5),
		CascadeTimeout:       envDurationDefault("AGRIVEST_CASCADE_TIMEOUT", 30*time.Second),
		MigrateOnStart:       envBoolDefault("AGRIVEST_MIGRATE_ON_START", true),
		CatalogPath:          strings.TrimSpace(os.Getenv("AGRIVEST_CATALOG_PATH")),
		SeedPackages:         envBoolDefault("AGRIVEST_SEED_PACKAGES", true),
		EmbedScheduler:       envBoolDefault("AGRIVEST_EMBED_SCHEDULER", false),
		WorkerMetricsAddr:    envDefault("AGRIVEST_WORKER_METRICS_ADDR", ":9091"),
		RateLimitRPS:         envFloatDefault("AGRIVEST_RATE_LIMIT_RPS", 20),
		RateLimitBurst:       envIntDefault("AGRIVEST_RATE_LIMIT_BURST", 40),
		WithdrawalMinPaise:   int64(envIntDefault("AGRIVEST_WITHDRAWAL_MIN_PAISE", int(ledger.DefaultWithdrawalMinPaise))),
	}

	if strings.EqualFold(cfg.WorkerMetricsAddr, "off") {
		cfg.WorkerMetricsAddr = ""
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("AGRIVEST_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("AGRIVEST_STORE must be %s or %s", StorePostgres, StoreMemory)
	}
	switch c.ActiveReferralPolicy {
	case "ever", "current":
	default:
		return fmt.Errorf("AGRIVEST_ACTIVE_REFERRAL_POLICY must be ever or current")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("AGRIVEST_DB_MAX_CONNS must be positive")
	}
	if c.AccrualWorkers <= 0 {
		return fmt.Errorf("AGRIVEST_ACCRUAL_WORKERS must be positive")
	}
	if c.CascadeWorkers <= 0 || c.CascadeQueue <= 0 {
		return fmt.Errorf("AGRIVEST_CASCADE_WORKERS and AGRIVEST_CASCADE_QUEUE must be positive")
	}
	if c.CascadeMaxAttempts <= 0 {
		return fmt.Errorf("AGRIVEST_CASCADE_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	if c.WithdrawalMinPaise <= 0 {
		return fmt.Errorf("AGRIVEST_WITHDRAWAL_MIN_PAISE must be positive")
	}
	return nil
}

func (c Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Location:                  c.Location,
		CatchUpMissedDays:         c.CatchUp,
		ActiveReferralCurrentOnly: c.ActiveReferralPolicy == "current",
		AccrualWorkers:            c.AccrualWorkers,
		CascadeTimeout:            c.CascadeTimeout,
		CascadeMaxAttempts:        c.CascadeMaxAttempts,
		WithdrawalMinPaise:        c.WithdrawalMinPaise,
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLogLevel(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
