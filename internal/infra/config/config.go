package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL     string `env:"DATABASE_URL,required,notEmpty"`
	TelegramToken   string `env:"TELEGRAM_TOKEN"` // empty disables the admin bot
	AdminTelegramID int64  `env:"ADMIN_TELEGRAM_ID"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"` // empty disables the ops API
	RedisAddr       string `env:"REDIS_ADDR"`                   // empty uses an in-process job lock
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	Timezone        string `env:"TIMEZONE" envDefault:"UTC"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	Environment     string `env:"ENVIRONMENT" envDefault:"development"`
	MigrateOnStart  bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	CronSpecLookAhead string `env:"CRON_SPEC_LOOKAHEAD" envDefault:"0 0 * * *"` // daily, tomorrow's instances
	CronSpecSweep     string `env:"CRON_SPEC_SWEEP" envDefault:"5 0 * * *"`     // daily, after look-ahead
	CronSpecMonthly   string `env:"CRON_SPEC_MONTHLY" envDefault:"0 0 1 * *"`   // 1st of month, whole-month batch
	CronSpecRecent    string `env:"CRON_SPEC_RECENT" envDefault:"30 0 * * *"`   // daily, controls changed in the last day

	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"10m"`
	SweepTimeout      time.Duration `env:"SWEEP_TIMEOUT" envDefault:"5m"`
	JobLockTTL        time.Duration `env:"JOB_LOCK_TTL" envDefault:"15m"`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env tags cannot express.
func (c *AppConfig) Validate() error {
	if c.TelegramToken != "" && c.AdminTelegramID == 0 {
		return fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}

	specs := map[string]string{
		"CRON_SPEC_LOOKAHEAD": c.CronSpecLookAhead,
		"CRON_SPEC_SWEEP":     c.CronSpecSweep,
		"CRON_SPEC_MONTHLY":   c.CronSpecMonthly,
		"CRON_SPEC_RECENT":    c.CronSpecRecent,
	}
	for name, spec := range specs {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	if c.GenerationTimeout <= 0 || c.SweepTimeout <= 0 {
		return fmt.Errorf("job timeouts must be positive")
	}
	// A lock must outlive the job it guards, otherwise a slow run loses it mid-way.
	if c.JobLockTTL < max(c.GenerationTimeout, c.SweepTimeout) {
		return fmt.Errorf("JOB_LOCK_TTL (%s) must be at least the longest job timeout (%s)",
			c.JobLockTTL, max(c.GenerationTimeout, c.SweepTimeout))
	}
	return nil
}

// Location is the reference time zone all calendar days are computed in.
// Validate has already checked the name.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
