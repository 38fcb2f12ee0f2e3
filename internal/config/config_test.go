package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/easybet/internal/config"
)

const (
	adminAddr  = "0x00000000000000000000000000000000000000ad"
	escrowAddr = "0x00000000000000000000000000000000000000e5"
)

func valid() config.Config {
	cfg := config.Defaults()
	cfg.Admin.Address = adminAddr
	cfg.Ledger.EscrowAddress = escrowAddr
	return cfg
}

func TestDefaultsNeedOnlyAddresses(t *testing.T) {
	cfg := config.Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin:")
	assert.Contains(t, err.Error(), "escrow_address")

	cfg = valid()
	require.NoError(t, cfg.Validate())

	faucet, err := cfg.Ledger.Faucet()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), faucet.Int64())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad mode", func(c *config.Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"admin equals escrow", func(c *config.Config) { c.Ledger.EscrowAddress = adminAddr }, "must differ"},
		{"negative faucet", func(c *config.Config) { c.Ledger.FaucetAmount = "-5" }, "faucet_amount"},
		{"key file without password", func(c *config.Config) { c.Admin.KeyFile = "admin.json" }, "key_password"},
		{"no redis in server mode", func(c *config.Config) { c.Redis.Addr = "" }, "redis: url or addr"},
		{"empty sqlite path in local mode", func(c *config.Config) {
			c.Mode = "local"
			c.SQLite.Path = " "
		}, "sqlite: path"},
		{"snapshots without bucket", func(c *config.Config) {
			c.Snapshot.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"tiny part size", func(c *config.Config) {
			c.Snapshot.Enabled = true
			c.Snapshot.PartSize = 1024
		}, "part_size"},
		{"bad port", func(c *config.Config) { c.Server.Port = 70000 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_LocalModeSkipsRedisAndPostgres(t *testing.T) {
	cfg := valid()
	cfg.Mode = "local"
	cfg.Redis.Addr = ""
	cfg.Postgres.Host = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MigrateNeedsOnlyPostgres(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "migrate"
	assert.NoError(t, cfg.Validate())

	cfg.Postgres.PoolMaxConns = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easybet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "local"

[admin]
address = "`+adminAddr+`"

[ledger]
escrow_address = "`+escrowAddr+`"
faucet_amount = "25"

[snapshot]
interval = "90s"

[server]
port = 9000
`), 0o600))

	t.Setenv("EASYBET_SERVER_PORT", "9100")
	t.Setenv("EASYBET_NOTIFY_EVENTS", "activity_resolved, ,betting_ended")
	t.Setenv("EASYBET_SERVER_RATE_LIMIT", "not-a-number")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit, "unparsable override is ignored")
	assert.Equal(t, 90*time.Second, cfg.Snapshot.Interval.Duration)
	assert.Equal(t, []string{"activity_resolved", "betting_ended"}, cfg.Notify.Events)
	assert.Equal(t, "BET", cfg.Ledger.TokenSymbol)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := valid()
	cfg.Admin.PrivateKey = "0xdead"
	cfg.Server.APIKey = "k"
	cfg.Postgres.Password = ""

	out := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Admin.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Postgres.Password)
	assert.Equal(t, "0xdead", cfg.Admin.PrivateKey)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
