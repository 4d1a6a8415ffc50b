// Package config loads service settings from an optional YAML file and
// DERMASCAN_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. DERMASCAN_HTTP_ADDR.
const EnvPrefix = "DERMASCAN"

// Model backends.
const (
	BackendTFLite = "tflite"
	BackendGRPC   = "grpc"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig configures the result cache. Setting Enabled to false runs the
// service without a cache.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type ModelConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Threads  int    `mapstructure:"threads"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

type MediaConfig struct {
	Root string `mapstructure:"root"`
}

type EnrichmentConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SweeperConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// Config holds every setting of the service.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Model      ModelConfig      `mapstructure:"model"`
	Media      MediaConfig      `mapstructure:"media"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=dermascan port=5432 sslmode=disable")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.result_ttl", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")

	v.SetDefault("model.backend", BackendTFLite)
	v.SetDefault("model.path", "models/skin_cancer_model.tflite")
	v.SetDefault("model.threads", 2)
	v.SetDefault("model.grpc_addr", "inference:50051")

	v.SetDefault("media.root", "media")

	v.SetDefault("enrichment.base_url", "https://api.fda.gov/drug")
	v.SetDefault("enrichment.timeout", 10*time.Second)
	v.SetDefault("enrichment.cache_ttl", time.Hour)

	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.grace_period", 10*time.Minute)
}

// Load reads configuration from path, if non-empty, and the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Model.Backend {
	case BackendTFLite:
		if strings.TrimSpace(c.Model.Path) == "" {
			errs = append(errs, errors.New("model.path is required for the tflite backend"))
		}
		if c.Model.Threads < 1 {
			errs = append(errs, fmt.Errorf("model.threads must be at least 1, got %d", c.Model.Threads))
		}
	case BackendGRPC:
		if strings.TrimSpace(c.Model.GRPCAddr) == "" {
			errs = append(errs, errors.New("model.grpc_addr is required for the grpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.backend must be %q or %q, got %q", BackendTFLite, BackendGRPC, c.Model.Backend))
	}

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required when redis.enabled is true"))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if strings.TrimSpace(c.Media.Root) == "" {
		errs = append(errs, errors.New("media.root is required"))
	}
	if c.Enrichment.Timeout <= 0 {
		errs = append(errs, errors.New("enrichment.timeout must be positive"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}
	if c.Sweeper.GracePeriod <= 0 {
		errs = append(errs, errors.New("sweeper.grace_period must be positive"))
	}

	return errors.Join(errs...)
}
