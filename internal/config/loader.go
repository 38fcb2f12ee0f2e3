package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EASYBET_"

// Load decodes the TOML file at path over Defaults, loads .env when present,
// and applies EASYBET_* overrides. An empty path skips the file. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Admin.Address, "ADMIN_ADDRESS")
	setStr(&cfg.Admin.PrivateKey, "ADMIN_PRIVATE_KEY")
	setStr(&cfg.Admin.KeyFile, "ADMIN_KEY_FILE")
	setStr(&cfg.Admin.KeyPassword, "ADMIN_KEY_PASSWORD")

	setStr(&cfg.Ledger.EscrowAddress, "LEDGER_ESCROW_ADDRESS")
	setStr(&cfg.Ledger.FaucetAmount, "LEDGER_FAUCET_AMOUNT")
	setStr(&cfg.Ledger.TokenSymbol, "LEDGER_TOKEN_SYMBOL")

	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.SQLite.Path, "SQLITE_PATH")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")

	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setBool(&cfg.Snapshot.Enabled, "SNAPSHOT_ENABLED")
	setStr(&cfg.Snapshot.Prefix, "SNAPSHOT_PREFIX")
	setDuration(&cfg.Snapshot.Interval, "SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.Keep, "SNAPSHOT_KEEP")
	setBool(&cfg.Snapshot.RestoreOnStart, "SNAPSHOT_RESTORE_ON_START")

	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureWindow, "SERVER_SIGNATURE_WINDOW")
	setBool(&cfg.Server.TrustCallerHeader, "SERVER_TRUST_CALLER_HEADER")

	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each helper only mutates the target when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var cleaned []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
