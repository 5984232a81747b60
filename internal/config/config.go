// Package config defines the top-level configuration for the copy-trading
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYMIRROR_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	ClobAuth   ClobAuthConfig   `toml:"clob_auth"`
	Copy       CopyConfig       `toml:"copy"`
	Resolution ResolutionConfig `toml:"resolution"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the follower's Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// ClobAuthConfig holds CLOB L2 API credentials used to sign order requests.
type ClobAuthConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// CopyConfig holds the copy-trading parameters: whose fills to mirror and
// how to scale them.
type CopyConfig struct {
	// TargetWallet is the source wallet whose fills are mirrored.
	TargetWallet string `toml:"target_wallet"`
	// AccountKey names the ledger that accumulates the copied positions.
	AccountKey   string   `toml:"account_key"`
	Multiplier   float64  `toml:"multiplier"`
	MaxTradeUSDC float64  `toml:"max_trade_usdc"`
	// MinOrderUSDC skips fills whose scaled copy notional would land
	// below the exchange minimum.
	MinOrderUSDC float64 `toml:"min_order_usdc"`
	PollInterval duration `toml:"poll_interval"`
	// StaleAfter drops source fills older than this at ingest; they are
	// recorded nowhere and never executed.
	StaleAfter duration `toml:"stale_after"`
	// DryRun books fills into the ledger without submitting orders.
	DryRun bool `toml:"dry_run"`
	// UseWebsocket switches the feed from REST polling to the live user
	// channel, with polling kept as the catch-up path.
	UseWebsocket bool `toml:"use_websocket"`
	// MaxSlippageBps aborts execution when the book has moved too far
	// from the source fill's price.
	MaxSlippageBps float64 `toml:"max_slippage_bps"`
}

// ResolutionConfig holds the market-resolution detector parameters.
type ResolutionConfig struct {
	Enabled       bool     `toml:"enabled"`
	CheckInterval duration `toml:"check_interval"`
	// MinWinnerBid is the best-bid threshold above which an outcome is
	// treated as the winner when Gamma has not flagged the market yet.
	MinWinnerBid float64 `toml:"min_winner_bid"`
}

// ReconcileConfig holds the on-chain position reconciler parameters.
type ReconcileConfig struct {
	Enabled       bool     `toml:"enabled"`
	GoldskyURL    string   `toml:"goldsky_url"`
	GoldskyAPIKey string   `toml:"goldsky_api_key"`
	Interval      duration `toml:"interval"`
}

// StorageConfig selects the ledger snapshot backend.
type StorageConfig struct {
	// Backend is "postgres" or "file".
	Backend string `toml:"backend"`
	// FileDir is the snapshot directory for the file backend.
	FileDir string `toml:"file_dir"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTL expires cached prices so a dead feed reads as "no price"
	// instead of a stale one. Zero disables expiry.
	CacheTTL duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveAfterDays is how old a record must be before the archiver
	// copies it out to object storage.
	ArchiveAfterDays int `toml:"archive_after_days"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the status API and the WebSocket endpoint. Empty
	// disables authentication, which is only sensible on localhost.
	APIKey string `toml:"api_key"`
	// RatePerMinute caps authenticated requests per client IP. Zero
	// disables rate limiting.
	RatePerMinute int `toml:"rate_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Copy: CopyConfig{
			AccountKey:     "primary",
			Multiplier:     1.0,
			MaxTradeUSDC:   100.0,
			MinOrderUSDC:   1.0,
			PollInterval:   duration{2 * time.Second},
			StaleAfter:     duration{5 * time.Minute},
			DryRun:         true,
			UseWebsocket:   false,
			MaxSlippageBps: 100.0,
		},
		Resolution: ResolutionConfig{
			Enabled:       true,
			CheckInterval: duration{time.Minute},
			MinWinnerBid:  0.95,
		},
		Reconcile: ReconcileConfig{
			Enabled:  false,
			Interval: duration{10 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: "file",
			FileDir: "data/ledgers",
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
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "polymirror-data",
			UseSSL:           false,
			ForcePathStyle:   true,
			ArchiveAfterDays: 30,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RatePerMinute: 300,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "hedge", "resolution", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":    true,
	"monitor": true,
	"serve":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for Storage.Backend.
var validBackends = map[string]bool{
	"postgres": true,
	"file":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, monitor, serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	mode := strings.ToLower(c.Mode)
	copies := mode == "copy" || mode == "monitor" || mode == "full"

	// Copy — a source wallet is required whenever fills are ingested.
	if copies {
		if c.Copy.TargetWallet == "" {
			errs = append(errs, "copy: target_wallet must be set for mode "+c.Mode)
		}
		if c.Copy.AccountKey == "" {
			errs = append(errs, "copy: account_key must not be empty")
		}
		if c.Copy.Multiplier <= 0 {
			errs = append(errs, "copy: multiplier must be > 0")
		}
		if c.Copy.MaxTradeUSDC <= 0 {
			errs = append(errs, "copy: max_trade_usdc must be > 0")
		}
		if c.Copy.PollInterval.Duration <= 0 {
			errs = append(errs, "copy: poll_interval must be > 0")
		}
	}

	// Wallet — credentials are only required when orders are actually sent.
	executes := (mode == "copy" || mode == "full") && !c.Copy.DryRun
	if executes {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when dry_run is off")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		ck := c.ClobAuth.ApiKey != ""
		cs := c.ClobAuth.ApiSecret != ""
		cp := c.ClobAuth.ApiPassphrase != ""
		if !(ck && cs && cp) {
			errs = append(errs, "clob_auth: api_key, api_secret, and api_passphrase are all required when dry_run is off")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (proxy) or 2 (gnosis safe), got %d", c.Polymarket.SignatureType))
	}

	// Resolution
	if c.Resolution.Enabled {
		if c.Resolution.CheckInterval.Duration <= 0 {
			errs = append(errs, "resolution: check_interval must be > 0 when enabled")
		}
		if c.Resolution.MinWinnerBid <= 0 || c.Resolution.MinWinnerBid > 1 {
			errs = append(errs, fmt.Sprintf("resolution: min_winner_bid must be in (0, 1], got %.2f", c.Resolution.MinWinnerBid))
		}
	}

	// Reconcile
	if c.Reconcile.Enabled && c.Reconcile.GoldskyURL == "" {
		errs = append(errs, "reconcile: goldsky_url must be set when enabled")
	}

	// Storage
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, file)", c.Storage.Backend))
	}
	if strings.ToLower(c.Storage.Backend) == "file" && c.Storage.FileDir == "" {
		errs = append(errs, "storage: file_dir must not be empty for the file backend")
	}
	if strings.ToLower(c.Storage.Backend) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.ArchiveAfterDays < 1 {
			errs = append(errs, "s3: archive_after_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RatePerMinute < 0 {
			errs = append(errs, "server: rate_per_minute must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
