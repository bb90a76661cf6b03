package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	TelegramDebug    bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`

	// Storage
	DBDriver    Driver `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN       string `env:"DB_DSN" envDefault:"data/places.db"`
	CatalogPath string `env:"CATALOG_PATH"`
	PhotosDir   string `env:"PHOTOS_DIR" envDefault:"Photos"`

	// Reminder and date input timezone
	Timezone string `env:"TIMEZONE" envDefault:"Europe/Minsk"`

	// Background jobs
	ReminderSweepSpec string        `env:"REMINDER_SWEEP_SPEC" envDefault:"@every 30s"`
	StateTTL          time.Duration `env:"STATE_TTL" envDefault:"24h"`
	StateEvictionSpec string        `env:"STATE_EVICTION_SPEC" envDefault:"@every 10m"`

	UpdateWorkers  int `env:"UPDATE_WORKERS" envDefault:"8"`
	PlacesPageSize int `env:"PLACES_PAGE_SIZE" envDefault:"8"`

	// Ops HTTP, empty disables it
	HTTPAddr string `env:"HTTP_ADDR"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// New reads the configuration from the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDriver != DriverMemory && c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required for driver %s", c.DBDriver)
	}
	if c.UpdateWorkers <= 0 {
		return fmt.Errorf("UPDATE_WORKERS must be positive, got %d", c.UpdateWorkers)
	}
	if c.PlacesPageSize <= 0 {
		return fmt.Errorf("PLACES_PAGE_SIZE must be positive, got %d", c.PlacesPageSize)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
