// Package config defines the top-level configuration for polysniper and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSNIPER_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Feed       FeedConfig       `toml:"feed"`
	Engine     EngineConfig     `toml:"engine"`
	Signal     SignalConfig     `toml:"signal"`
	Trading    TradingConfig    `toml:"trading"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds venue endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	WsURL     string `toml:"ws_url"`
}

// DiscoveryConfig controls how markets are found and admitted.
type DiscoveryConfig struct {
	Assets            []string `toml:"assets"`
	RefreshInterval   duration `toml:"refresh_interval"`
	MinLifetime       duration `toml:"min_lifetime"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerCooldown   duration `toml:"breaker_cooldown"`
	Timeout           duration `toml:"timeout"`
}

// FeedConfig tunes the market-data websocket client.
type FeedConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	IdleWait         duration `toml:"idle_wait"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
	MaxParseFailures int      `toml:"max_parse_failures"`
	// Mirror copies every book update into the Redis orderbook cache.
	Mirror bool `toml:"mirror"`
}

// EngineConfig holds tick loop timing.
type EngineConfig struct {
	TickInterval         duration `toml:"tick_interval"`
	HousekeepingInterval duration `toml:"housekeeping_interval"`
	EmptyWait            duration `toml:"empty_wait"`
	ResetSmoothing       bool     `toml:"reset_smoothing"`
	ShutdownTimeout      duration `toml:"shutdown_timeout"`
}

// SignalConfig sizes the rolling windows.
type SignalConfig struct {
	SmoothingWindow  int     `toml:"smoothing_window"`
	VolatilityWindow int     `toml:"volatility_window"`
	MinObservations  int     `toml:"min_observations"`
	VolatilityFloor  float64 `toml:"volatility_floor"`
	// Volatility selects the reading source: "change" (tick-to-tick mid
	// change) or "static" (StaticVolatility).
	Volatility       string  `toml:"volatility"`
	StaticVolatility float64 `toml:"static_volatility"`
}

// TradingConfig holds strategy and position parameters.
type TradingConfig struct {
	Strategy    string          `toml:"strategy"`
	Size        float64         `toml:"size"`
	TradeSize   float64         `toml:"trade_size"`
	EntryFee    float64         `toml:"entry_fee"`
	ExitFee     float64         `toml:"exit_fee"`
	TakeProfitK float64         `toml:"take_profit_k"`
	StopLossK   float64         `toml:"stop_loss_k"`
	MaxHold     duration        `toml:"max_hold"`
	MinHold     duration        `toml:"min_hold"`
	Cooldown    duration        `toml:"cooldown"`
	Threshold   ThresholdConfig `toml:"threshold"`
}

// ThresholdConfig selects the entry band. Kind is "fixed" (Lower/Upper) or
// "relative" (Offset around the slow mean, clamped to [Min, Max]).
type ThresholdConfig struct {
	Kind   string  `toml:"kind"`
	Lower  float64 `toml:"lower"`
	Upper  float64 `toml:"upper"`
	Offset float64 `toml:"offset"`
	Min    float64 `toml:"min"`
	Max    float64 `toml:"max"`
}

// PostgresConfig holds trade journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the journal
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func dur(d time.Duration) duration { return duration{Duration: d} }

// Defaults returns a Config populated with the values the engine is tuned
// for. Every optional backend is disabled.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			WsURL:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Discovery: DiscoveryConfig{
			Assets:            []string{"BTC", "ETH", "SOL", "XRP"},
			RefreshInterval:   dur(time.Minute),
			MinLifetime:       dur(2 * time.Minute),
			RequestsPerSecond: 5,
			Burst:             4,
			BreakerFailures:   3,
			BreakerCooldown:   dur(30 * time.Second),
			Timeout:           dur(30 * time.Second),
		},
		Feed: FeedConfig{
			PollInterval:     dur(100 * time.Millisecond),
			IdleWait:         dur(500 * time.Millisecond),
			ReconnectDelay:   dur(time.Second),
			MaxParseFailures: 50,
		},
		Engine: EngineConfig{
			TickInterval:         dur(500 * time.Millisecond),
			HousekeepingInterval: dur(25 * time.Minute),
			EmptyWait:            dur(30 * time.Second),
			ShutdownTimeout:      dur(15 * time.Second),
		},
		Signal: SignalConfig{
			SmoothingWindow:  8,
			VolatilityWindow: 25,
			MinObservations:  5,
			VolatilityFloor:  0.001,
			Volatility:       "change",
			StaticVolatility: 0.004,
		},
		Trading: TradingConfig{
			Strategy:    "mean_reversion",
			Size:        1.0,
			TradeSize:   10,
			EntryFee:    0.01,
			ExitFee:     0.01,
			TakeProfitK: 1.3,
			StopLossK:   2.0,
			MaxHold:     dur(5 * time.Minute),
			MinHold:     dur(30 * time.Second),
			Cooldown:    dur(30 * time.Second),
			Threshold: ThresholdConfig{
				Kind:   "fixed",
				Lower:  0.35,
				Upper:  0.65,
				Offset: 0.10,
				Min:    0.55,
				Max:    0.85,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    dur(30 * time.Second),
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysniper-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8080,
			RateLimit: 20,
			RateBurst: 40,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_closed", "force_close"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"mean_reversion": true,
	"momentum":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if !strings.HasPrefix(c.Polymarket.WsURL, "ws://") && !strings.HasPrefix(c.Polymarket.WsURL, "wss://") {
		errs = append(errs, fmt.Sprintf("polymarket: ws_url must be a ws:// or wss:// URL, got %q", c.Polymarket.WsURL))
	}

	if len(c.Discovery.Assets) == 0 {
		errs = append(errs, "discovery: assets must not be empty")
	}
	if c.Discovery.RefreshInterval.Duration <= 0 {
		errs = append(errs, "discovery: refresh_interval must be > 0")
	}
	if c.Discovery.MinLifetime.Duration < 0 {
		errs = append(errs, "discovery: min_lifetime must be >= 0")
	}

	if c.Feed.MaxParseFailures < 1 {
		errs = append(errs, "feed: max_parse_failures must be >= 1")
	}
	if c.Feed.Mirror && !c.Redis.Enabled {
		errs = append(errs, "feed: mirror requires redis.enabled")
	}

	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if c.Engine.HousekeepingInterval.Duration < 0 {
		errs = append(errs, "engine: housekeeping_interval must be >= 0")
	}

	if c.Signal.SmoothingWindow < 1 || c.Signal.VolatilityWindow < 1 {
		errs = append(errs, "signal: smoothing_window and volatility_window must be >= 1")
	}
	if c.Signal.MinObservations < 1 {
		errs = append(errs, "signal: min_observations must be >= 1")
	}
	if c.Signal.VolatilityFloor <= 0 {
		errs = append(errs, "signal: volatility_floor must be > 0")
	}
	switch c.Signal.Volatility {
	case "change":
	case "static":
		if c.Signal.StaticVolatility <= 0 {
			errs = append(errs, "signal: static_volatility must be > 0 when volatility is static")
		}
	default:
		errs = append(errs, fmt.Sprintf("signal: unknown volatility source %q (valid: change, static)", c.Signal.Volatility))
	}

	if !validStrategies[c.Trading.Strategy] {
		errs = append(errs, fmt.Sprintf("trading: unknown strategy %q (valid: mean_reversion, momentum)", c.Trading.Strategy))
	}
	if c.Trading.Size <= 0 || c.Trading.TradeSize <= 0 {
		errs = append(errs, "trading: size and trade_size must be > 0")
	}
	if c.Trading.EntryFee < 0 || c.Trading.EntryFee >= 1 || c.Trading.ExitFee < 0 || c.Trading.ExitFee >= 1 {
		errs = append(errs, "trading: entry_fee and exit_fee must be in [0, 1)")
	}
	if c.Trading.TakeProfitK <= 0 || c.Trading.StopLossK <= 0 {
		errs = append(errs, "trading: take_profit_k and stop_loss_k must be > 0")
	}
	errs = append(errs, c.Trading.Threshold.validate()...)

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: the journal archive requires postgres.enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (t ThresholdConfig) validate() []string {
	var errs []string
	switch t.Kind {
	case "fixed":
		if !(0 < t.Lower && t.Lower < t.Upper && t.Upper < 1) {
			errs = append(errs, fmt.Sprintf("trading.threshold: need 0 < lower < upper < 1, got %v/%v", t.Lower, t.Upper))
		}
	case "relative":
		if t.Offset <= 0 {
			errs = append(errs, "trading.threshold: offset must be > 0")
		}
		if !(0.5 <= t.Min && t.Min <= t.Max && t.Max < 1) {
			errs = append(errs, fmt.Sprintf("trading.threshold: need 0.5 <= min <= max < 1, got %v/%v", t.Min, t.Max))
		}
	default:
		errs = append(errs, fmt.Sprintf("trading.threshold: unknown kind %q (valid: fixed, relative)", t.Kind))
	}
	return errs
}
