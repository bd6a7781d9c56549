package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "DB_DRIVER", "STORE", "PORT", "LOG_LEVEL", "RATE_LIMIT", "MAX_OPEN_CONNS"} {
		t.Setenv(k, "")
	}
	t.Setenv("STORE", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, DriverPGX, cfg.Driver)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, 25, cfg.MaxOpenConns, "unparsable values fall back to the default")
	assert.Equal(t, float64(50), cfg.RateLimit)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("STORE", "memory")
	t.Setenv("PORT", "9090")

	cfg, err := Load([]string{
		"--store=postgres",
		"--database-url=postgres://u:p@db:5432/rentals",
		"--port", "7070",
		"--log-level=debug",
		"--rate-limit=0",
		"--max-open-conns=4",
		"--otlp-endpoint=collector:4318",
	})
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://u:p@db:5432/rentals", cfg.DatabaseURL)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.RateLimit)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
}

func TestValidate(t *testing.T) {
	valid := Config{Store: StoreMemory, Driver: DriverLibPQ, Port: "8080", MaxOpenConns: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Store = StorePostgres; c.DatabaseURL = "" }},
		{"bad port", func(c *Config) { c.Port = "http" }},
		{"port out of range", func(c *Config) { c.Port = "70000" }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"no connections", func(c *Config) { c.MaxOpenConns = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	_, err := Load([]string{"--store=memory", "--no-such-flag"})
	assert.Error(t, err)
}
