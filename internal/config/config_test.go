package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "data/places.db", cfg.DBDSN)
	assert.Equal(t, "Photos", cfg.PhotosDir)
	assert.Equal(t, 24*time.Hour, cfg.StateTTL)
	assert.Equal(t, "@every 30s", cfg.ReminderSweepSpec)
	assert.Equal(t, 8, cfg.UpdateWorkers)
	assert.Equal(t, 8, cfg.PlacesPageSize)
	assert.Empty(t, cfg.HTTPAddr)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Minsk", loc.String())
}

func TestNewRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := New()
	assert.Error(t, err)
}

func TestNewOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("DB_DSN", "")
	t.Setenv("STATE_TTL", "90m")
	t.Setenv("UPDATE_WORKERS", "2")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.DBDriver)
	assert.Equal(t, 90*time.Minute, cfg.StateTTL)
	assert.Equal(t, 2, cfg.UpdateWorkers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{TelegramBotToken: "t", DBDriver: DriverSQLite, DBDSN: "x.db", UpdateWorkers: 1, PlacesPageSize: 1, Timezone: "UTC"}
	require.NoError(t, base.Validate())

	bad := []func(c *Config){
		func(c *Config) { c.TelegramBotToken = "" },
		func(c *Config) { c.DBDriver = "mongo" },
		func(c *Config) { c.DBDSN = "" },
		func(c *Config) { c.UpdateWorkers = 0 },
		func(c *Config) { c.PlacesPageSize = -1 },
		func(c *Config) { c.Timezone = "Mars/Olympus" },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}
