package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrivest/internal/config"
	"agrivest/internal/ledger"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenMemoryAndSeed(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: config.StoreMemory, SeedPackages: true, Location: time.UTC}

	st, closeFn, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()

	svc := ledger.NewService(st, discard(), cfg.LedgerOptions())
	require.NoError(t, SeedCatalog(ctx, cfg, svc, discard()))

	pkgs, err := svc.ListPackages(ctx)
	require.NoError(t, err)
	assert.Len(t, pkgs, 3)
}

func TestSeedCatalogFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
packages:
  - id: starter
    name: Starter
    min_investment: 500
    daily_return_percent: 2
    duration_days: 15
`), 0o600))
	cfg := config.Config{Store: config.StoreMemory, SeedPackages: true, CatalogPath: path, Location: time.UTC}
	st, closeFn, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	defer closeFn()

	svc := ledger.NewService(st, discard(), cfg.LedgerOptions())
	require.NoError(t, SeedCatalog(ctx, cfg, svc, discard()))
	pkg, err := st.Package(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), pkg.MinInvestmentPaise)
	assert.Equal(t, int64(200), pkg.DailyReturnBps)
}

func TestSeedCatalogDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Store: config.StoreMemory, Location: time.UTC}
	st, closeFn, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	defer closeFn()

	svc := ledger.NewService(st, discard(), cfg.LedgerOptions())
	require.NoError(t, SeedCatalog(ctx, cfg, svc, discard()))
	pkgs, err := svc.ListPackages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestOpenUnknownStore(t *testing.T) {
	_, closeFn, err := Open(context.Background(), config.Config{Store: "sqlite"}, discard())
	require.Error(t, err)
	closeFn()
}
