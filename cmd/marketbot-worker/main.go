package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cache "marketbot/internal/cache/redis"
	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/ledger"
	"marketbot/internal/notify"
	"marketbot/internal/quotes"
	"marketbot/internal/sched"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "marketbot.toml", "path to TOML config")
	seed := flag.Bool("seed", false, "seed default items and stocks before starting")
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

	if *seed {
		if err := game.SeedDefaults(ctx); err != nil {
			logger.Error("seed failed", "err", err)
			os.Exit(1)
		}
	}

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
			logger.Warn("redis unavailable, board cache disabled", "err", err)
		} else {
			defer redisClient.Close()
			board = cache.NewBoardCache(redisClient, time.Duration(cfg.Redis.BoardTTLSec)*time.Second)
		}
	}

	var announcer notify.Announcer = notify.Nop{}
	if cfg.Discord.WebhookURL != "" {
		d, err := notify.NewDiscord(cfg.Discord.WebhookURL, logger)
		if err != nil {
			logger.Error("discord webhook setup failed", "err", err)
			os.Exit(1)
		}
		announcer = d
	}

	scheduler, err := sched.New(cfg.Scheduler, logger, game, board, announcer)
	if err != nil {
		logger.Error("scheduler setup failed", "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})
	g.Go(func() error {
		// anchor prices to their references once at boot so a worker that was
		// down over the pre-market window does not run on stale prices
		syncCtx, cancel := context.WithTimeout(gctx, 2*time.Minute)
		defer cancel()
		if err := game.SynchronizeAll(syncCtx); err != nil {
			logger.Error("startup sync failed", "err", err)
		}
		return nil
	})

	logger.Info("marketbot worker started", "timezone", cfg.Scheduler.Timezone)
	if err := g.Wait(); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker shutdown")
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
