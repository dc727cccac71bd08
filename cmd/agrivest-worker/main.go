package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agrivest/internal/config"
	"agrivest/internal/ledger"
	"agrivest/internal/metrics"
	"agrivest/internal/scheduler"
	"agrivest/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load env file", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	st, closeStore, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := ledger.NewService(st, logger, cfg.LedgerOptions())
	m := metrics.New()
	svc.SetRecorder(m)
	if err := store.SeedCatalog(ctx, cfg, svc, logger); err != nil {
		logger.Error("seed catalog failed", "err", err)
		os.Exit(1)
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("AGRIVEST_WORKER_RUN_ONCE")), "true")
	if runOnce {
		var asOf time.Time
		if v := strings.TrimSpace(os.Getenv("AGRIVEST_WORKER_AS_OF")); v != "" {
			asOf, err = time.ParseInLocation(time.DateOnly, v, cfg.Location)
			if err != nil {
				logger.Error("AGRIVEST_WORKER_AS_OF must be YYYY-MM-DD", "value", v)
				os.Exit(1)
			}
		}
		summary, err := svc.RunDailyAccrual(ctx, asOf)
		if err != nil {
			logger.Error("accrual failed", "err", err)
			os.Exit(1)
		}
		sweep, err := svc.SweepCascadeTasks(ctx, ledger.DefaultSweepLimit)
		if err != nil {
			logger.Error("cascade sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed",
			"as_of", summary.AsOf.Format(time.DateOnly),
			"accrued", summary.Accrued,
			"matured", summary.Matured,
			"failed", summary.Failed,
			"missed_days", summary.MissedDays,
			"cascade_done", sweep.Done,
			"cascade_failed", sweep.Failed,
		)
		if summary.Failed > 0 || sweep.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(ctx, svc, logger, cfg.Location)
	if err := sched.RegisterAll(cfg.AccrualCron, cfg.SweepCron); err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := m.Server(cfg.WorkerMetricsAddr)
		go func() {
			logger.Info("worker metrics listening", "addr", cfg.WorkerMetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	sched.Start()
	logger.Info("worker started", "accrual_cron", cfg.AccrualCron, "sweep_cron", cfg.SweepCron, "timezone", cfg.Timezone)

	<-ctx.Done()
	sched.Stop()
	logger.Info("worker shutdown")
}
