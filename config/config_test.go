package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "prescribing.db", cfg.DBPath)
	assert.Equal(t, "prescribing.parquet", cfg.SnapshotPath)
	assert.Equal(t, 5*time.Minute, cfg.ReloadInterval)
	assert.Equal(t, 7.2, cfg.DiscountPercentage)
	assert.Equal(t, 12, cfg.ConcessionMonths)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsDev())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("SNAPSHOT_RELOAD_INTERVAL", "0")
	t.Setenv("NATIONAL_AVERAGE_DISCOUNT_PERCENTAGE", "0")
	t.Setenv("CORS_ORIGINS", "https://openprescribing.net")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Duration(0), cfg.ReloadInterval)
	assert.True(t, cfg.Discount().Equal(decimal.Zero))
	assert.Equal(t, []string{"https://openprescribing.net"}, cfg.CORSOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: 8080, DBPath: "db", SnapshotPath: "snap",
			DiscountPercentage: 7.2, ConcessionMonths: 12,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"discount of 100", func(c *Config) { c.DiscountPercentage = 100 }},
		{"negative discount", func(c *Config) { c.DiscountPercentage = -1 }},
		{"zero months", func(c *Config) { c.ConcessionMonths = 0 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"empty snapshot path", func(c *Config) { c.SnapshotPath = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"negative interval", func(c *Config) { c.ReloadInterval = -time.Second }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
