package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/pricesync/internal/admin"
	"github.com/JonMunkholm/pricesync/internal/application"
	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/store"
)

func main() {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	env := application.Env{
		Catalog:      st,
		EnsureSchema: st.EnsureSchema,
		Resetter:     &admin.Resetter{Catalog: st, Logger: logger},
		Out:          os.Stdout,
	}

	if err := application.Dispatch(ctx, env, os.Args[1:]); err != nil {
		logger.Error("command failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
}
