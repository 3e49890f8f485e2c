package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polysniper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[discovery]
assets = ["BTC"]
refresh_interval = "2m"

[trading]
strategy = "momentum"
cooldown = "45s"

[trading.threshold]
kind = "relative"
offset = 0.12

[server]
port = 9090
`), 0o600))

	t.Chdir(dir)
	t.Setenv("POLYSNIPER_SERVER_PORT", "9191")
	t.Setenv("POLYSNIPER_DISCOVERY_ASSETS", "ETH, SOL ,")
	t.Setenv("POLYSNIPER_TRADING_COOLDOWN", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Discovery.RefreshInterval.Duration)
	assert.Equal(t, "momentum", cfg.Trading.Strategy)
	assert.Equal(t, "relative", cfg.Trading.Threshold.Kind)
	assert.InDelta(t, 0.12, cfg.Trading.Threshold.Offset, 1e-12)
	assert.InDelta(t, 0.85, cfg.Trading.Threshold.Max, 1e-12, "unset keys keep defaults")

	assert.Equal(t, 9191, cfg.Server.Port, "env wins over file")
	assert.Equal(t, []string{"ETH", "SOL"}, cfg.Discovery.Assets)
	assert.Equal(t, time.Minute, cfg.Trading.Cooldown.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\ntick_interval = \"soon\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Trading.Strategy = "flash_crash"
	cfg.Trading.Threshold = ThresholdConfig{Kind: "fixed", Lower: 0.7, Upper: 0.3}
	cfg.S3.Enabled = true
	cfg.Feed.Mirror = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown strategy "flash_crash"`,
		"0 < lower < upper < 1",
		"s3: the journal archive requires postgres.enabled",
		"feed: mirror requires redis.enabled",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_RelativeThreshold(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.Threshold = ThresholdConfig{Kind: "relative", Offset: 0.1, Min: 0.4, Max: 0.8}
	assert.ErrorContains(t, cfg.Validate(), "0.5 <= min <= max < 1")

	cfg.Trading.Threshold.Min = 0.55
	assert.NoError(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "tg"

	out := Redacted(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "pg", cfg.Postgres.Password)

	out.Discovery.Assets[0] = "DOGE"
	assert.Equal(t, "BTC", cfg.Discovery.Assets[0])
}
