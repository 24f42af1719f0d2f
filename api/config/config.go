package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full server configuration, assembled from the process
// environment after an optional .env load. Every knob has a default,
// so a bare `v3kn serve` works out of the box.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Polling   PollingConfig
	Telemetry TelemetryConfig
	Updater   UpdaterConfig
}

type ServerConfig struct {
	Host         string        `env:"V3KN_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"V3KN_PORT" envDefault:"3000"`
	ReadTimeout  time.Duration `env:"V3KN_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout time.Duration `env:"V3KN_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout  time.Duration `env:"V3KN_IDLE_TIMEOUT" envDefault:"300s"`
	MaxBody      int64         `env:"V3KN_MAX_BODY" envDefault:"104857600"`
	MaxConns     int           `env:"V3KN_MAX_CONNS" envDefault:"10000"`
}

type StorageConfig struct {
	DataDir string `env:"V3KN_DATA_DIR" envDefault:"v3kn"`
	Quota   uint64 `env:"V3KN_QUOTA" envDefault:"52428800"`
}

type PollingConfig struct {
	Budget        time.Duration `env:"V3KN_POLL_BUDGET" envDefault:"30s"`
	SweepInterval time.Duration `env:"V3KN_SWEEP_INTERVAL" envDefault:"30s"`
	PruneAge      time.Duration `env:"V3KN_PRUNE_AGE" envDefault:"168h"`
}

type TelemetryConfig struct {
	LogFile     string `env:"V3KN_LOG_FILE" envDefault:"v3kn.log"`
	LogsDir     string `env:"V3KN_LOGS_DIR" envDefault:"logs"`
	Tracing     bool   `env:"V3KN_TRACING" envDefault:"false"`
	Environment string `env:"V3KN_ENVIRONMENT" envDefault:"development"`
}

type UpdaterConfig struct {
	Enabled bool   `env:"V3KN_UPDATER" envDefault:"false"`
	Script  string `env:"V3KN_UPDATE_SCRIPT" envDefault:"./update-v3kn.sh"`
}

// Load reads .env when present, then the environment.
// Priority: environment > .env file > defaults.
func Load() (*Config, error) {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("V3KN_PORT out of range: %d", c.Server.Port)
	}
	if c.Server.MaxConns < 1 {
		return fmt.Errorf("V3KN_MAX_CONNS must be > 0, got %d", c.Server.MaxConns)
	}
	if c.Server.MaxBody < 1 {
		return fmt.Errorf("V3KN_MAX_BODY must be > 0, got %d", c.Server.MaxBody)
	}
	if c.Storage.Quota == 0 {
		return fmt.Errorf("V3KN_QUOTA must be > 0")
	}
	if c.Polling.Budget <= 0 {
		return fmt.Errorf("V3KN_POLL_BUDGET must be > 0, got %s", c.Polling.Budget)
	}
	if c.Polling.SweepInterval <= 0 {
		return fmt.Errorf("V3KN_SWEEP_INTERVAL must be > 0, got %s", c.Polling.SweepInterval)
	}
	if c.Polling.PruneAge <= 0 {
		return fmt.Errorf("V3KN_PRUNE_AGE must be > 0, got %s", c.Polling.PruneAge)
	}
	return nil
}

// Addr is the host:port the HTTP listener binds.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
