package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSNIPER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSNIPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYSNIPER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsURL, "POLYSNIPER_POLYMARKET_WS_URL")

	// ── Discovery ──
	setStringSlice(&cfg.Discovery.Assets, "POLYSNIPER_DISCOVERY_ASSETS")
	setDuration(&cfg.Discovery.RefreshInterval, "POLYSNIPER_DISCOVERY_REFRESH_INTERVAL")
	setDuration(&cfg.Discovery.MinLifetime, "POLYSNIPER_DISCOVERY_MIN_LIFETIME")
	setFloat64(&cfg.Discovery.RequestsPerSecond, "POLYSNIPER_DISCOVERY_REQUESTS_PER_SECOND")

	// ── Feed ──
	setDuration(&cfg.Feed.ReconnectDelay, "POLYSNIPER_FEED_RECONNECT_DELAY")
	setBool(&cfg.Feed.Mirror, "POLYSNIPER_FEED_MIRROR")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "POLYSNIPER_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.HousekeepingInterval, "POLYSNIPER_ENGINE_HOUSEKEEPING_INTERVAL")
	setBool(&cfg.Engine.ResetSmoothing, "POLYSNIPER_ENGINE_RESET_SMOOTHING")

	// ── Signal ──
	setInt(&cfg.Signal.SmoothingWindow, "POLYSNIPER_SIGNAL_SMOOTHING_WINDOW")
	setInt(&cfg.Signal.VolatilityWindow, "POLYSNIPER_SIGNAL_VOLATILITY_WINDOW")
	setStr(&cfg.Signal.Volatility, "POLYSNIPER_SIGNAL_VOLATILITY")

	// ── Trading ──
	setStr(&cfg.Trading.Strategy, "POLYSNIPER_TRADING_STRATEGY")
	setFloat64(&cfg.Trading.Size, "POLYSNIPER_TRADING_SIZE")
	setFloat64(&cfg.Trading.TradeSize, "POLYSNIPER_TRADING_TRADE_SIZE")
	setDuration(&cfg.Trading.MaxHold, "POLYSNIPER_TRADING_MAX_HOLD")
	setDuration(&cfg.Trading.Cooldown, "POLYSNIPER_TRADING_COOLDOWN")
	setStr(&cfg.Trading.Threshold.Kind, "POLYSNIPER_TRADING_THRESHOLD_KIND")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYSNIPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYSNIPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSNIPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSNIPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSNIPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSNIPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSNIPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSNIPER_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POLYSNIPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYSNIPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYSNIPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSNIPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSNIPER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYSNIPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSNIPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSNIPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSNIPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSNIPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSNIPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSNIPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSNIPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSNIPER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSNIPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSNIPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSNIPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYSNIPER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSNIPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSNIPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSNIPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSNIPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSNIPER_MODE")
	setStr(&cfg.LogLevel, "POLYSNIPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
