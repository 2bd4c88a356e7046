package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INVITE_TOKEN_SECRET", "dev-secret")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 5, cfg.InviteToken.ExpiryDays)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, time.Minute, cfg.Redis.TwoFactorCacheTTL)
	assert.Equal(t, "membership:2fa-changed", cfg.Redis.TwoFactorChangedChannel)
	assert.Equal(t, "*/15 * * * *", cfg.Metrics.SeatUsageSchedule)
	assert.False(t, cfg.Features.PushSyncOrgKeysOnRevokeRestore)
	assert.False(t, cfg.SMTP.IsConfigured())
	assert.Contains(t, cfg.Database.DSN(), "dbname=membership")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INVITE_TOKEN_SECRET", "dev-secret")
	t.Setenv("INVITE_TOKEN_EXPIRY_DAYS", "7")
	t.Setenv("FEATURE_PUSH_SYNC_ORG_KEYS_ON_REVOKE_RESTORE", "true")
	t.Setenv("SELF_HOSTED", "true")
	t.Setenv("WORKER_EMAIL_RATE", "2.5")
	t.Setenv("DB_CONN_MAX_LIFETIME", "90s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.InviteToken.ExpiryDays)
	assert.True(t, cfg.Features.PushSyncOrgKeysOnRevokeRestore)
	assert.True(t, cfg.Features.SelfHosted)
	assert.Equal(t, 2.5, cfg.Worker.EmailRatePerSecond)
	assert.Equal(t, 90*time.Second, cfg.Database.ConnMaxLifetime)
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"missing secret", func(c *config.Config) { c.InviteToken.Secret = "" }, "INVITE_TOKEN_SECRET"},
		{"zero expiry", func(c *config.Config) { c.InviteToken.ExpiryDays = 0 }, "EXPIRY_DAYS"},
		{"bad schedule", func(c *config.Config) { c.Metrics.SeatUsageSchedule = "hourly" }, "SEAT_USAGE_SCHEDULE"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "trace" }, "LOG_LEVEL"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"sampling rate", func(c *config.Config) { c.Log.SamplingRate = 2 }, "LOG_SAMPLING_RATE"},
		{"smtp without host", func(c *config.Config) { c.SMTP.Enabled = true }, "SMTP_HOST"},
		{"no workers", func(c *config.Config) { c.Worker.Concurrency = 0 }, "WORKER_CONCURRENCY"},
		{"production short secret", func(c *config.Config) { c.App.Env = config.EnvProduction }, "at least 32"},
		{"production without db ssl", func(c *config.Config) {
			c.App.Env = config.EnvProduction
			c.InviteToken.Secret = strings.Repeat("s", 32)
			c.Database.Password = "pw"
		}, "SSL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INVITE_TOKEN_SECRET", "dev-secret")
			cfg, err := config.Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogConfig_Logger(t *testing.T) {
	c := config.LogConfig{Level: "warn", Format: "text", SamplingEnabled: true, SamplingThreshold: 20, SamplingRate: 0.5, ErrorSamplingRate: 1}
	lc := c.Logger()
	assert.Equal(t, "warn", lc.Level)
	assert.True(t, lc.Sampling.Enabled)
	assert.Equal(t, uint64(20), lc.Sampling.Threshold)
}
