package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[copy]
target_wallet = "0xeffcc79a8572940cee2238b44eac89f2c48fda88"
multiplier = 0.5
poll_interval = "3s"

[server]
port = 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "0xeffcc79a8572940cee2238b44eac89f2c48fda88", cfg.Copy.TargetWallet)
	assert.InDelta(t, 0.5, cfg.Copy.Multiplier, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Copy.PollInterval.Duration)
	assert.Equal(t, 9000, cfg.Server.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, "https://data-api.polymarket.com", cfg.Polymarket.DataHost)
	assert.InDelta(t, 100.0, cfg.Copy.MaxTradeUSDC, 1e-9)
	assert.True(t, cfg.Copy.DryRun)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[copy]
target_wallet = "0xfromfile"
`)

	t.Setenv("POLYMIRROR_COPY_TARGET_WALLET", "0xfromenv")
	t.Setenv("POLYMIRROR_COPY_MAX_TRADE_USDC", "250")
	t.Setenv("POLYMIRROR_COPY_DRY_RUN", "false")
	t.Setenv("POLYMIRROR_COPY_POLL_INTERVAL", "10s")
	t.Setenv("POLYMIRROR_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("POLYMIRROR_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xfromenv", cfg.Copy.TargetWallet)
	assert.InDelta(t, 250.0, cfg.Copy.MaxTradeUSDC, 1e-9)
	assert.False(t, cfg.Copy.DryRun)
	assert.Equal(t, 10*time.Second, cfg.Copy.PollInterval.Duration)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateAcceptsMonitorDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Copy.TargetWallet = "0xeffcc79a8572940cee2238b44eac89f2c48fda88"

	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresTargetWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "copy"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_wallet")
}

func TestValidateRequiresCredentialsWhenLive(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "copy"
	cfg.Copy.TargetWallet = "0xabc"
	cfg.Copy.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet:")
	assert.Contains(t, err.Error(), "clob_auth:")

	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.ClobAuth.ApiKey = "k"
	cfg.ClobAuth.ApiSecret = "s"
	cfg.ClobAuth.ApiPassphrase = "p"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownModeAndBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Storage.Backend = "floppy"
	cfg.Copy.TargetWallet = "0xabc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "yolo"`)
	assert.Contains(t, err.Error(), `unknown backend "floppy"`)
}

func TestValidatePostgresBackendNeedsConnection(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Storage.Backend = "postgres"
	cfg.Postgres.Host = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")

	cfg.Postgres.DSN = "postgres://user:pass@db:5432/app"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.ClobAuth.ApiSecret = "s3cret"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispw"
	cfg.S3.SecretKey = "s3key"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.ClobAuth.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals untouched.
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	// Non-secret fields pass through.
	assert.Equal(t, cfg.Polymarket.ClobHost, red.Polymarket.ClobHost)
}
