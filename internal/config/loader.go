package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path (missing file falls back to defaults),
// merges it on top of the built-in defaults, then applies MARKETBOT_*
// environment overrides. Call Validate on the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env if present, silently skip otherwise.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "MARKETBOT_SERVER_ADDR")
	setStr(&cfg.Server.AdminToken, "MARKETBOT_SERVER_ADMIN_TOKEN")

	setStr(&cfg.Database.DSN, "MARKETBOT_DATABASE_DSN")
	setInt(&cfg.Database.PoolMaxConns, "MARKETBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETBOT_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "MARKETBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MARKETBOT_REDIS_TLS_ENABLED")

	setStr(&cfg.Quotes.BaseURL, "MARKETBOT_QUOTES_BASE_URL")
	setStr(&cfg.Quotes.APIKey, "MARKETBOT_QUOTES_API_KEY")

	setStr(&cfg.Discord.WebhookURL, "MARKETBOT_DISCORD_WEBHOOK_URL")

	setInt64(&cfg.Game.StartingBalance, "MARKETBOT_GAME_STARTING_BALANCE")
	setInt64(&cfg.Game.StartingCreditLimit, "MARKETBOT_GAME_STARTING_CREDIT_LIMIT")
	setInt64(&cfg.Game.MinimumPrice, "MARKETBOT_GAME_MINIMUM_PRICE")
	setFloat64(&cfg.Game.WalkVolatility, "MARKETBOT_GAME_WALK_VOLATILITY")
	setFloat64(&cfg.Game.DailyInterestRate, "MARKETBOT_GAME_DAILY_INTEREST_RATE")

	setStr(&cfg.Scheduler.Timezone, "MARKETBOT_SCHEDULER_TIMEZONE")
	setInt(&cfg.Scheduler.WalkIntervalMin, "MARKETBOT_SCHEDULER_WALK_INTERVAL_MIN")
	setInt(&cfg.Scheduler.WalkAmount, "MARKETBOT_SCHEDULER_WALK_AMOUNT")

	setStr(&cfg.LogLevel, "MARKETBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
