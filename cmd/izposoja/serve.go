package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erazemk/izposoja/internal/api"
	"github.com/erazemk/izposoja/internal/circulation"
	"github.com/erazemk/izposoja/internal/metrics"
	"github.com/erazemk/izposoja/internal/schedule"
	"github.com/erazemk/izposoja/internal/store"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var c common
	c.register(fs)

	addr := fs.String("addr", envOr("IZPOSOJA_ADDR", ":8080"), "listen address")
	schedSpec := fs.String("sweep-schedule", envOr("IZPOSOJA_SWEEP_SCHEDULE", "*/5 * * * *"),
		"cron schedule of the hold expiry sweep, empty to disable")
	sweepLimit := fs.Int("sweep-limit", envIntOr("IZPOSOJA_SWEEP_LIMIT", circulation.DefaultSweepLimit),
		"holds processed per organization per scheduled sweep")

	if err := fs.Parse(args); err != nil {
		return err
	}

	database, closeAll, err := c.open()
	if err != nil {
		return err
	}
	defer closeAll()

	slog.Info("database ready", "dsn", c.dsn)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(context.Background(), database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	svc := circulation.NewService(database, circulation.WithLogger(slog.Default()))

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewRouter(database, svc, jwtSecret))
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var sched *schedule.Scheduler
	if *schedSpec != "" {
		sched, err = schedule.New(svc, *schedSpec, *sweepLimit, slog.Default())
		if err != nil {
			return err
		}
		sched.Start()
		slog.Info("sweep scheduled", "schedule", *schedSpec, "limit", *sweepLimit)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if sched != nil {
			sched.Stop(5 * time.Second)
		}
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}
