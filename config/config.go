/*
config.go - Server configuration

PURPOSE:
  Reads settings from an optional .env file and the environment. Command
  flags in cmd/server override whatever is loaded here.

VARIABLES:
  PORT                                  HTTP port (8080)
  DB_PATH                               SQLite reference store (prescribing.db)
  SNAPSHOT_PATH                         Parquet prescribing extract (prescribing.parquet)
  SNAPSHOT_RELOAD_INTERVAL              Extract poll interval, 0 disables (5m)
  NATIONAL_AVERAGE_DISCOUNT_PERCENTAGE  Discount applied to tariff costs (7.2)
  CONCESSION_MONTHS                     Months in a concession summary (12)
  CORS_ORIGINS                          Comma-separated allowed origins
  LOGS_FOLDER                           Rotating log file directory
  ENV                                   development | production

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - logging/logging.go: reads LOGS_FOLDER
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port               int           `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DBPath             string        `mapstructure:"DB_PATH"`
	SnapshotPath       string        `mapstructure:"SNAPSHOT_PATH"`
	ReloadInterval     time.Duration `mapstructure:"SNAPSHOT_RELOAD_INTERVAL"`
	DiscountPercentage float64       `mapstructure:"NATIONAL_AVERAGE_DISCOUNT_PERCENTAGE"`
	ConcessionMonths   int           `mapstructure:"CONCESSION_MONTHS"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	LogsFolder         string        `mapstructure:"LOGS_FOLDER"`
}

var defaults = map[string]any{
	"PORT":                                 8080,
	"ENV":                                  "development",
	"DB_PATH":                              "prescribing.db",
	"SNAPSHOT_PATH":                        "prescribing.parquet",
	"SNAPSHOT_RELOAD_INTERVAL":             "5m",
	"NATIONAL_AVERAGE_DISCOUNT_PERCENTAGE": 7.2,
	"CONCESSION_MONTHS":                    12,
	"CORS_ORIGINS":                         "http://localhost:5173,http://localhost:8080",
	"LOGS_FOLDER":                          "",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		// Bind explicitly so Unmarshal picks up env-only values
		v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A single env string does not decode to a slice
	if origins := v.GetString("CORS_ORIGINS"); len(cfg.CORSOrigins) <= 1 && origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("SNAPSHOT_PATH is required")
	}
	if c.ReloadInterval < 0 {
		return fmt.Errorf("SNAPSHOT_RELOAD_INTERVAL must not be negative")
	}
	if c.DiscountPercentage < 0 || c.DiscountPercentage >= 100 {
		return fmt.Errorf("NATIONAL_AVERAGE_DISCOUNT_PERCENTAGE must be in [0, 100), got %v", c.DiscountPercentage)
	}
	if c.ConcessionMonths <= 0 {
		return fmt.Errorf("CONCESSION_MONTHS must be positive, got %d", c.ConcessionMonths)
	}
	return nil
}

// Discount returns the discount percentage for decimal arithmetic.
func (c *Config) Discount() decimal.Decimal {
	return decimal.NewFromFloat(c.DiscountPercentage)
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
