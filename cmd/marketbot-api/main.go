package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketbot/internal/api"
	cache "marketbot/internal/cache/redis"
	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/ledger"
	"marketbot/internal/quotes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "marketbot.toml", "path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	pool, err := db.Connect(ctx, cfg.Database.DSN, cfg.Database.PoolMaxConns, cfg.Database.PoolMinConns)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.RunMigrations {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	quoteClient := quotes.NewClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey,
		quotes.WithTimeout(time.Duration(cfg.Quotes.TimeoutSec)*time.Second),
		quotes.WithLogger(logger))
	game := ledger.NewService(pool, logger, cfg.GameRules(), quoteClient, cfg.Location())

	var board *cache.BoardCache
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.New(ctx, cache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			logger.Warn("redis unavailable, board endpoint disabled", "err", err)
		} else {
			defer redisClient.Close()
			board = cache.NewBoardCache(redisClient, time.Duration(cfg.Redis.BoardTTLSec)*time.Second)
		}
	}

	server := api.New(cfg.Server, logger, game, board)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("marketbot api listening", "addr", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
