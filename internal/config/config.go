// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DB_URL"`
	// AMQPURL is optional; empty disables run result publishing.
	AMQPURL  string `env:"RMQ_URL"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":6942"`

	DBMaxConns int `env:"DB_MAX_CONNS" envDefault:"32"`

	Workers      int           `env:"WORKER_COUNT" envDefault:"4"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	RunTimeout   time.Duration `env:"RUN_TIMEOUT" envDefault:"10m"`
	RunHistory   int           `env:"RUN_HISTORY" envDefault:"200"`

	FetchRetries     int           `env:"FETCH_RETRIES" envDefault:"3"`
	FetchBackoffBase time.Duration `env:"FETCH_BACKOFF_BASE" envDefault:"500ms"`
	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	// PerHostGap spaces out requests against one target site.
	PerHostGap time.Duration `env:"RATE_LIMIT_GAP" envDefault:"2s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
