package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"github.com/openctemio/membership/pkg/logger"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	SMTP        SMTPConfig
	InviteToken InviteTokenConfig
	Features    FeaturesConfig
	Worker      WorkerConfig
	Metrics     MetricsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name string `env:"APP_NAME" envDefault:"Vault"`
	Env  string `env:"APP_ENV" envDefault:"development"`
	// WebURL is the web vault address used in invitation and billing links.
	WebURL string `env:"APP_WEB_URL" envDefault:"http://localhost:8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"membership"`
	Password        string        `env:"DB_PASSWORD"`
	Name            string        `env:"DB_NAME" envDefault:"membership"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port         int           `env:"REDIS_PORT" envDefault:"6379"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	TLSEnabled   bool          `env:"REDIS_TLS_ENABLED"`
	// TwoFactorCacheTTL bounds how stale a cached two-step login status may be.
	TwoFactorCacheTTL time.Duration `env:"REDIS_TWO_FACTOR_CACHE_TTL" envDefault:"1m"`
	// KeySyncChannel is the pub/sub channel for org key sync pushes.
	KeySyncChannel string `env:"REDIS_KEY_SYNC_CHANNEL" envDefault:"membership:sync-org-keys"`
	// TwoFactorChangedChannel carries ids of users whose two-step login
	// settings changed.
	TwoFactorChangedChannel string `env:"REDIS_TWO_FACTOR_CHANGED_CHANNEL" envDefault:"membership:2fa-changed"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level             string  `env:"LOG_LEVEL" envDefault:"info"`
	Format            string  `env:"LOG_FORMAT" envDefault:"json"`
	SamplingEnabled   bool    `env:"LOG_SAMPLING_ENABLED"`
	SamplingThreshold int     `env:"LOG_SAMPLING_THRESHOLD" envDefault:"100"`
	SamplingRate      float64 `env:"LOG_SAMPLING_RATE" envDefault:"0.1"`
	ErrorSamplingRate float64 `env:"LOG_ERROR_SAMPLING_RATE" envDefault:"1.0"`
}

// SMTPConfig holds SMTP configuration for sending emails.
type SMTPConfig struct {
	Enabled    bool          `env:"SMTP_ENABLED"`
	Host       string        `env:"SMTP_HOST"`
	Port       int           `env:"SMTP_PORT" envDefault:"587"`
	User       string        `env:"SMTP_USER"`
	Password   string        `env:"SMTP_PASSWORD"`
	From       string        `env:"SMTP_FROM"`
	FromName   string        `env:"SMTP_FROM_NAME" envDefault:"Vault"`
	TLS        bool          `env:"SMTP_TLS" envDefault:"true"`
	SkipVerify bool          `env:"SMTP_SKIP_VERIFY"`
	Timeout    time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`
}

// IsConfigured returns true if SMTP is properly configured.
func (c *SMTPConfig) IsConfigured() bool {
	return c.Enabled && c.Host != "" && c.Port > 0 && c.From != ""
}

// InviteTokenConfig holds the signing settings of invitation links.
type InviteTokenConfig struct {
	Secret     string `env:"INVITE_TOKEN_SECRET"`
	Issuer     string `env:"INVITE_TOKEN_ISSUER" envDefault:"membership"`
	ExpiryDays int    `env:"INVITE_TOKEN_EXPIRY_DAYS" envDefault:"5"`
}

// FeaturesConfig holds deployment-wide switches.
type FeaturesConfig struct {
	PushSyncOrgKeysOnRevokeRestore bool `env:"FEATURE_PUSH_SYNC_ORG_KEYS_ON_REVOKE_RESTORE"`
	// SelfHosted disables seat autoscaling.
	SelfHosted bool `env:"SELF_HOSTED"`
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"10"`
	// EmailRatePerSecond throttles outgoing mail; EmailBurst allows short bursts.
	EmailRatePerSecond float64       `env:"WORKER_EMAIL_RATE" envDefault:"5"`
	EmailBurst         int           `env:"WORKER_EMAIL_BURST" envDefault:"10"`
	MaxRetry           int           `env:"WORKER_MAX_RETRY" envDefault:"5"`
	ShutdownTimeout    time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// MetricsConfig holds the ops endpoint and the seat usage schedule.
type MetricsConfig struct {
	ListenAddr        string        `env:"METRICS_LISTEN_ADDR" envDefault:":9090"`
	SeatUsageSchedule string        `env:"SEAT_USAGE_SCHEDULE" envDefault:"*/15 * * * *"`
	SeatUsageTimeout  time.Duration `env:"SEAT_USAGE_TIMEOUT" envDefault:"2m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if c.InviteToken.Secret == "" {
		return errors.New("INVITE_TOKEN_SECRET is required")
	}
	if c.InviteToken.ExpiryDays < 1 {
		return fmt.Errorf("INVITE_TOKEN_EXPIRY_DAYS must be positive, got %d", c.InviteToken.ExpiryDays)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.EmailRatePerSecond <= 0 || c.Worker.EmailBurst < 1 {
		return errors.New("WORKER_EMAIL_RATE and WORKER_EMAIL_BURST must be positive")
	}
	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.From == "") {
		return errors.New("SMTP_HOST and SMTP_FROM are required when SMTP is enabled")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.Metrics.SeatUsageSchedule); err != nil {
		return fmt.Errorf("invalid SEAT_USAGE_SCHEDULE %q: %w", c.Metrics.SeatUsageSchedule, err)
	}
	return c.validateLog()
}

func (c *Config) validateLog() error {
	if !logger.IsValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0.0 || c.Log.ErrorSamplingRate > 1.0 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if len(c.InviteToken.Secret) < 32 {
		return errors.New("invite token secret must be at least 32 characters in production")
	}
	if c.Database.Password == "" {
		return errors.New("database password must be set in production")
	}
	if c.Database.SSLMode == "disable" {
		return errors.New("database SSL must be enabled in production")
	}
	if c.Redis.Password == "" {
		return errors.New("redis password must be set in production")
	}
	if c.SMTP.SkipVerify {
		return errors.New("SMTP TLS verification must not be skipped in production")
	}
	if strings.EqualFold(c.Log.Level, "debug") {
		return errors.New("log level should not be 'debug' in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Logger builds the logger configuration.
func (c *LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:  c.Level,
		Format: c.Format,
		Sampling: logger.SamplingConfig{
			Enabled:      c.SamplingEnabled,
			Tick:         time.Second,
			Threshold:    uint64(max(c.SamplingThreshold, 0)),
			Rate:         c.SamplingRate,
			ErrorRate:    c.ErrorSamplingRate,
			KeepPrefixes: []string{"membership ", "compensation"},
		},
	}
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}
