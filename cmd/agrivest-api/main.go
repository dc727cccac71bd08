package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrivest/internal/api"
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
	cfg, err := config.LoadAPIFromEnv()
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

	dispatcher := ledger.NewDispatcher(svc, logger, cfg.CascadeWorkers, cfg.CascadeQueue)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	svc.AttachQueue(dispatcher)

	if cfg.EmbedScheduler {
		sched := scheduler.New(ctx, svc, logger, cfg.Location)
		if err := sched.RegisterAll(cfg.AccrualCron, cfg.SweepCron); err != nil {
			logger.Error("scheduler init failed", "err", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	server := api.New(cfg, logger, svc, m)
	server.Limiter().StartCleanup(ctx, time.Minute)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("agrivest api listening", "addr", cfg.Addr, "store", cfg.Store, "timezone", cfg.Timezone, "embedded_scheduler", cfg.EmbedScheduler)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
