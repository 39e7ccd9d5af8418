package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/helios/internal/cache"
	"github.com/JonMunkholm/helios/internal/config"
	"github.com/JonMunkholm/helios/internal/core"
	_ "github.com/JonMunkholm/helios/internal/core/tables" // Register all tables
	"github.com/JonMunkholm/helios/internal/database"
	"github.com/JonMunkholm/helios/internal/logging"
	"github.com/JonMunkholm/helios/internal/notify"
	"github.com/JonMunkholm/helios/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	opts := []core.Option{
		core.WithIngestLimiter(core.NewIngestLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime)),
		core.WithIngestTimeout(cfg.Ingest.Timeout),
		core.WithSkipKeyword(cfg.Ingest.SkipKeyword),
	}

	if cfg.Cache.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Cache.Addr, "error", err)
			os.Exit(1)
		}
		bundleCache := cache.NewRedisBundleCache(client, cfg.Cache.Prefix, cfg.Cache.TTL)
		defer bundleCache.Close()
		opts = append(opts, core.WithBundleCache(bundleCache))
		slog.Info("bundle cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
	}

	if cfg.Notify.Enabled {
		notifier, err := notify.Connect(notify.Options{
			Broker:      cfg.Notify.Broker,
			ClientID:    cfg.Notify.ClientID,
			Username:    cfg.Notify.Username,
			Password:    cfg.Notify.Password,
			TopicPrefix: cfg.Notify.TopicPrefix,
			QoS:         byte(cfg.Notify.QoS),
		})
		if err != nil {
			slog.Error("failed to connect to mqtt broker", "broker", cfg.Notify.Broker, "error", err)
			os.Exit(1)
		}
		defer notifier.Close()
		opts = append(opts, core.WithNotifier(notifier))
	}

	service := core.NewService(store, opts...)

	slog.Info("tables registered",
		"count", core.RegisteredCount(),
		"groups", len(core.Groups()),
	)
	for _, group := range core.Groups() {
		slog.Debug("table group", "group", group, "tables", len(core.ByGroup(group)))
	}

	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go service.StartHistoryPruner(pruneCtx, core.PruneConfig{
		Retention: cfg.Ingest.HistoryRetention,
		Interval:  cfg.Ingest.HistoryPruneInterval,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running batches commit or roll back before the store closes.
		if status := service.IngestLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", status.Active)
			if err := service.WaitForIngests(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	<-done
	slog.Info("server stopped")
}

// openStore builds the row store selected by DB_DRIVER.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (core.RowStore, func(), error) {
	if strings.EqualFold(cfg.Driver, config.DriverMemory) {
		slog.Warn("using in-memory store; data is lost on exit")
		return database.NewMemoryStore(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return database.NewPgStore(pool), pool.Close, nil
}
