package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYMIRROR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYMIRROR_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYMIRROR_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYMIRROR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYMIRROR_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMIRROR_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMIRROR_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMIRROR_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYMIRROR_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYMIRROR_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYMIRROR_POLYMARKET_SIGNATURE_TYPE")

	// ── CLOB auth ──
	setStr(&cfg.ClobAuth.ApiKey, "POLYMIRROR_CLOB_AUTH_API_KEY")
	setStr(&cfg.ClobAuth.ApiSecret, "POLYMIRROR_CLOB_AUTH_API_SECRET")
	setStr(&cfg.ClobAuth.ApiPassphrase, "POLYMIRROR_CLOB_AUTH_API_PASSPHRASE")

	// ── Copy ──
	setStr(&cfg.Copy.TargetWallet, "POLYMIRROR_COPY_TARGET_WALLET")
	setStr(&cfg.Copy.AccountKey, "POLYMIRROR_COPY_ACCOUNT_KEY")
	setFloat64(&cfg.Copy.Multiplier, "POLYMIRROR_COPY_MULTIPLIER")
	setFloat64(&cfg.Copy.MaxTradeUSDC, "POLYMIRROR_COPY_MAX_TRADE_USDC")
	setFloat64(&cfg.Copy.MinOrderUSDC, "POLYMIRROR_COPY_MIN_ORDER_USDC")
	setDuration(&cfg.Copy.PollInterval, "POLYMIRROR_COPY_POLL_INTERVAL")
	setDuration(&cfg.Copy.StaleAfter, "POLYMIRROR_COPY_STALE_AFTER")
	setBool(&cfg.Copy.DryRun, "POLYMIRROR_COPY_DRY_RUN")
	setBool(&cfg.Copy.UseWebsocket, "POLYMIRROR_COPY_USE_WEBSOCKET")
	setFloat64(&cfg.Copy.MaxSlippageBps, "POLYMIRROR_COPY_MAX_SLIPPAGE_BPS")

	// ── Resolution ──
	setBool(&cfg.Resolution.Enabled, "POLYMIRROR_RESOLUTION_ENABLED")
	setDuration(&cfg.Resolution.CheckInterval, "POLYMIRROR_RESOLUTION_CHECK_INTERVAL")
	setFloat64(&cfg.Resolution.MinWinnerBid, "POLYMIRROR_RESOLUTION_MIN_WINNER_BID")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "POLYMIRROR_RECONCILE_ENABLED")
	setStr(&cfg.Reconcile.GoldskyURL, "POLYMIRROR_RECONCILE_GOLDSKY_URL")
	setStr(&cfg.Reconcile.GoldskyAPIKey, "POLYMIRROR_RECONCILE_GOLDSKY_API_KEY")
	setDuration(&cfg.Reconcile.Interval, "POLYMIRROR_RECONCILE_INTERVAL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "POLYMIRROR_STORAGE_BACKEND")
	setStr(&cfg.Storage.FileDir, "POLYMIRROR_STORAGE_FILE_DIR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POLYMIRROR_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYMIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYMIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYMIRROR_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "POLYMIRROR_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYMIRROR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYMIRROR_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDays, "POLYMIRROR_S3_ARCHIVE_AFTER_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYMIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYMIRROR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYMIRROR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYMIRROR_SERVER_API_KEY")
	setInt(&cfg.Server.RatePerMinute, "POLYMIRROR_SERVER_RATE_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYMIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYMIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYMIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYMIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYMIRROR_MODE")
	setStr(&cfg.LogLevel, "POLYMIRROR_LOG_LEVEL")
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
