// Package config defines the EasyBet configuration and its validation.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by EASYBET_* environment variables.
type Config struct {
	Admin    AdminConfig    `toml:"admin"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AdminConfig identifies the ledger administrator. Address alone is enough
// to run the ledger; a key lets the process sign as the admin.
type AdminConfig struct {
	Address     string `toml:"address"`
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// HasKey reports whether a signing key is configured.
func (a AdminConfig) HasKey() bool { return a.PrivateKey != "" || a.KeyFile != "" }

// LedgerConfig holds the token and escrow parameters.
type LedgerConfig struct {
	EscrowAddress string `toml:"escrow_address"`
	// FaucetAmount is a decimal token amount; "0" disables the faucet.
	FaucetAmount string `toml:"faucet_amount"`
	TokenSymbol  string `toml:"token_symbol"`
}

// Faucet parses FaucetAmount.
func (l LedgerConfig) Faucet() (*big.Int, error) {
	s := strings.TrimSpace(l.FaucetAmount)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("faucet_amount %q is not a non-negative integer", l.FaucetAmount)
	}
	return v, nil
}

// PostgresConfig holds the event journal connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// SQLiteConfig holds the local-mode event journal location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	URL          string   `toml:"url"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig controls the ledger archive.
type SnapshotConfig struct {
	Enabled            bool     `toml:"enabled"`
	Prefix             string   `toml:"prefix"`
	Interval           duration `toml:"interval"`
	Keep               int      `toml:"keep"`
	RestoreOnStart     bool     `toml:"restore_on_start"`
	MultipartThreshold int64    `toml:"multipart_threshold"`
	PartSize           int64    `toml:"part_size"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, must accompany every request as X-API-Key.
	APIKey string `toml:"api_key"`
	// RateLimit is the request budget per client per RateWindow; zero
	// disables limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	SignatureWindow duration `toml:"signature_window"`
	// TrustCallerHeader accepts X-Easybet-Address without a signature. Only
	// for local development.
	TrustCallerHeader bool     `toml:"trust_caller_header"`
	ReadTimeout       duration `toml:"read_timeout"`
	WriteTimeout      duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			FaucetAmount: "1000",
			TokenSymbol:  "BET",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "easybet",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{time.Hour},
			RunMigrations:   true,
		},
		SQLite: SQLiteConfig{
			Path: "easybet.db",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			LockTTL:      duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "easybet",
			ForcePathStyle: true,
		},
		Snapshot: SnapshotConfig{
			Enabled:            false,
			Prefix:             "snapshots",
			Interval:           duration{5 * time.Minute},
			Keep:               48,
			RestoreOnStart:     true,
			MultipartThreshold: 8 << 20,
			PartSize:           5 << 20,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			SignatureWindow: duration{5 * time.Minute},
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"activity_created", "activity_resolved", "betting_ended"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"local":   true,
	"migrate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, local, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	runsLedger := mode == "server" || mode == "local"
	usesPostgres := mode == "server" || mode == "migrate"

	if runsLedger {
		switch {
		case c.Admin.Address == "" && !c.Admin.HasKey():
			errs = append(errs, "admin: address, private_key or key_file must be set")
		case c.Admin.Address != "" && !common.IsHexAddress(c.Admin.Address):
			errs = append(errs, fmt.Sprintf("admin: address %q is not a hex address", c.Admin.Address))
		}
		if c.Admin.KeyFile != "" && c.Admin.KeyPassword == "" {
			errs = append(errs, "admin: key_password is required when key_file is set")
		}

		if !common.IsHexAddress(c.Ledger.EscrowAddress) {
			errs = append(errs, fmt.Sprintf("ledger: escrow_address %q is not a hex address", c.Ledger.EscrowAddress))
		} else if common.IsHexAddress(c.Admin.Address) &&
			common.HexToAddress(c.Admin.Address) == common.HexToAddress(c.Ledger.EscrowAddress) {
			errs = append(errs, "ledger: escrow_address must differ from admin.address")
		}
		if _, err := c.Ledger.Faucet(); err != nil {
			errs = append(errs, "ledger: "+err.Error())
		}

		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureWindow.Duration <= 0 {
			errs = append(errs, "server: signature_window must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if usesPostgres {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if mode == "server" {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	if mode == "local" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	if runsLedger && c.Snapshot.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when snapshots are enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when snapshots are enabled")
		}
		if c.Snapshot.Keep < 0 {
			errs = append(errs, "snapshot: keep must be >= 0")
		}
		if c.Snapshot.PartSize != 0 && c.Snapshot.PartSize < 5<<20 {
			errs = append(errs, "snapshot: part_size must be at least 5MiB")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
