// Package config loads service configuration from file, .env and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// OPTIMIZER_DATABASE_DSN overrides database.dsn.
const EnvPrefix = "OPTIMIZER"

// Config is the full service configuration.
type Config struct {
	Server    types.ServerConfig `mapstructure:"server"`
	Database  DatabaseConfig     `mapstructure:"database"`
	Data      DataConfig         `mapstructure:"data"`
	Optimizer OptimizerConfig    `mapstructure:"optimizer"`
	Evaluator EvaluatorConfig    `mapstructure:"evaluator"`
	Log       LogConfig          `mapstructure:"log"`
}

// DatabaseConfig configures the PostgreSQL pool. An empty DSN selects the
// in-memory repositories.
type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxIdleTime  time.Duration `mapstructure:"max_idle_time"`
	Migrate      bool          `mapstructure:"migrate"`
}

// DataConfig points at JSON fixtures used without a database.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// OptimizerConfig tunes the grid sweep.
type OptimizerConfig struct {
	GridSteps     int `mapstructure:"grid_steps"`
	MaxGridSteps  int `mapstructure:"max_grid_steps"`
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	PersistLimit  int `mapstructure:"persist_limit"`
	ResponseLimit int `mapstructure:"response_limit"`
}

// EvaluatorConfig tunes the recurring Set evaluation.
type EvaluatorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	RunOnStart        bool          `mapstructure:"run_on_start"`
	DefaultSampleSize int           `mapstructure:"default_sample_size"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// setDefaults registers every key so env overrides resolve through Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_idle_time", 15*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("data.dir", "./data")

	v.SetDefault("optimizer.grid_steps", types.DefaultGridSteps)
	v.SetDefault("optimizer.max_grid_steps", types.DefaultMaxGridSteps)
	v.SetDefault("optimizer.workers", 8)
	v.SetDefault("optimizer.queue_size", 1000)
	v.SetDefault("optimizer.persist_limit", 100)
	v.SetDefault("optimizer.response_limit", 20)

	v.SetDefault("evaluator.interval", time.Hour)
	v.SetDefault("evaluator.run_on_start", false)
	v.SetDefault("evaluator.default_sample_size", 25)

	v.SetDefault("log.level", "info")
}

// Load reads the config file at path (optional), a .env file in the working
// directory (optional) and OPTIMIZER_* environment variables, in increasing
// order of precedence.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Optimizer.GridSteps < 1 {
		return fmt.Errorf("optimizer.grid_steps must be >= 1")
	}
	if c.Optimizer.MaxGridSteps < c.Optimizer.GridSteps {
		return fmt.Errorf("optimizer.max_grid_steps must be >= optimizer.grid_steps")
	}
	if c.Optimizer.Workers < 1 {
		return fmt.Errorf("optimizer.workers must be >= 1")
	}
	if c.Optimizer.PersistLimit < c.Optimizer.ResponseLimit {
		return fmt.Errorf("optimizer.persist_limit must be >= optimizer.response_limit")
	}
	if c.Evaluator.Interval <= 0 {
		return fmt.Errorf("evaluator.interval must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
