package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/export"
	"github.com/JonMunkholm/pricesync/internal/ingest"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/store"
	"github.com/JonMunkholm/pricesync/internal/upload"
	"github.com/JonMunkholm/pricesync/internal/web"
)

func main() {
	// Overload lets a local .env win over inherited variables.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		fatal("failed to parse database URL", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Ping(ctx); err != nil {
		fatal("failed to ping database", err)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if cfg.Database.EnsureSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			fatal("failed to apply schema", err)
		}
		slog.Info("schema ensured")
	}

	objects, closeObjects, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		fatal("failed to open object storage", err)
	}
	defer closeObjects()

	opts := core.Options{
		Uploads:   upload.NewStore(objects, st, cfg.Storage.TempDir),
		Catalog:   st,
		Templates: export.NewTemplateSource(cfg.Export.TemplateURL, cfg.Export.TemplatePath, cfg.Export.TemplateTTL, logger),
		Mappings:  st,
		Ingest: ingest.Config{
			BatchSize:      cfg.Ingest.BatchSize,
			RequestTimeout: cfg.Ingest.RequestTimeout,
			RetryBackoff:   cfg.Ingest.RetryBackoff,
		},
		SourceEncoding:    cfg.Ingest.SourceEncoding,
		MaxConcurrentRuns: cfg.Ingest.MaxConcurrent,
		RunWait:           cfg.Ingest.MaxWaitTime,
		RunTimeout:        cfg.Ingest.RunTimeout,
		RunRetention:      cfg.Ingest.RunRetention,
		PriceChunkSize:    cfg.Export.PriceChunkSize,
		Markup:            &cfg.Export.Markup,
		Logger:            logger,
	}

	if cfg.Ingest.EndpointURL != "" {
		opts.Endpoint = ingest.NewHTTPEndpoint(cfg.Ingest.EndpointURL, cfg.Ingest.EndpointToken)
		slog.Info("using remote ingest endpoint", "url", cfg.Ingest.EndpointURL)
	}

	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			fatal("failed to parse redis URL", err)
		}
		mirror, err := core.NewRedisProgressMirror(ctx, redisOpts, cfg.Redis.Prefix, cfg.Redis.TTL, logger)
		if err != nil {
			fatal("failed to connect to redis", err)
		}
		defer mirror.Close()
		opts.Mirror = mirror
		opts.Locker = core.NewRedisSupplierLocker(mirror.Client(), cfg.Redis.Prefix, cfg.Redis.LockTTL, logger)
	}

	service, err := core.NewService(opts)
	if err != nil {
		fatal("failed to create service", err)
	}

	server := web.NewServer(service, cfg, st.Ping)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go service.StartTemplateRefresher(jobCtx, cfg.Export.RefreshInterval)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.RunLimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for ingestion runs to finish", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				slog.Warn("runs did not finish in time", "error", err)
			} else {
				slog.Info("all runs finished")
			}
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		fatal("server stopped", err)
	}
	<-stopped
	slog.Info("server stopped")
}

// openObjectStore returns the configured upload object store and a func
// releasing it.
func openObjectStore(ctx context.Context, cfg config.StorageConfig) (upload.ObjectStore, func(), error) {
	switch cfg.Backend {
	case config.StorageGCS:
		var creds string
		if cfg.CredentialsFile != "" {
			b, err := os.ReadFile(cfg.CredentialsFile)
			if err != nil {
				return nil, nil, err
			}
			creds = string(b)
		}
		gcs, err := upload.NewGCSObjectStore(ctx, cfg.Bucket, creds)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("storing uploads in GCS", "bucket", cfg.Bucket)
		return gcs, func() { gcs.Close() }, nil
	default:
		local, err := upload.NewLocalObjectStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("storing uploads on disk", "dir", cfg.Dir)
		return local, func() {}, nil
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
