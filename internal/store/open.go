package store

import (
	"context"
	"fmt"
	"log/slog"

	"agrivest/internal/config"
	"agrivest/internal/db"
	"agrivest/internal/ledger"
	"agrivest/internal/store/memory"
	"agrivest/internal/store/postgres"
)

// Open returns the ledger store selected by cfg.Store, applying migrations
// first when configured. The returned close func is never nil.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; balances are lost on restart")
		return memory.New(), func() {}, nil
	case config.StorePostgres:
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return nil, func() {}, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			return nil, func() {}, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// SeedCatalog upserts the configured package catalog when seeding is on.
func SeedCatalog(ctx context.Context, cfg config.Config, svc *ledger.Service, logger *slog.Logger) error {
	if !cfg.SeedPackages {
		return nil
	}
	pkgs, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := svc.SeedPackages(ctx, pkgs); err != nil {
		return fmt.Errorf("seed packages: %w", err)
	}
	logger.Info("package catalog seeded", "packages", len(pkgs), "source", catalogSource(cfg.CatalogPath))
	return nil
}

func catalogSource(path string) string {
	if path == "" {
		return "builtin"
	}
	return path
}
