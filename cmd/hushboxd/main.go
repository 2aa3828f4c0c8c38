// Command hushboxd runs the HushBox rotation engine as an HTTP server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/LOME-AI/hushbox"
	"github.com/LOME-AI/hushbox/internal/config"
	"github.com/LOME-AI/hushbox/internal/httpapi"
	"github.com/LOME-AI/hushbox/internal/logging"
	"github.com/LOME-AI/hushbox/internal/store"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		logging.New(true, "info").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logger.Development, cfg.Logger.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []hushbox.Option{hushbox.WithLogger(logger)}
	if cfg.Bun.DSN != "" {
		sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Bun.DSN)))
		db := bun.NewDB(sqlDB, pgdialect.New())
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("ping database", "err", err)
			os.Exit(1)
		}
		pg := store.NewPG(db)
		if err := pg.CreateTables(ctx); err != nil {
			logger.Error("create tables", "err", err)
			os.Exit(1)
		}
		opts = append(opts, hushbox.WithStore(pg))
		logger.Info("using postgres store")
	} else {
		opts = append(opts, hushbox.WithMemoryStore())
		logger.Warn("no database DSN configured, using the in-memory store")
	}

	svc := hushbox.New(opts...)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.New(svc, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}
}
