package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. BUNQUERY_STORAGE_DRIVER.
const EnvPrefix = "BUNQUERY_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Log     logger.Config `mapstructure:"log"`
	Query   QueryConfig   `mapstructure:"query"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Models  []ModelConfig `mapstructure:"models"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory | sqlite | postgres
	Path   string `mapstructure:"path"`   // sqlite database file
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

type QueryConfig struct {
	RelationConcurrency int  `mapstructure:"relation_concurrency"` // <= 1 loads relations sequentially
	StrictOperators     bool `mapstructure:"strict_operators"`     // reject unknown operators instead of non-matching
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

// ModelConfig declares an entity type and the relations it can eager-load.
// Models are a list rather than a map because viper lowercases map keys.
type ModelConfig struct {
	Name      string           `mapstructure:"name"`
	Store     string           `mapstructure:"store"`
	Relations []RelationConfig `mapstructure:"relations"`
}

type RelationConfig struct {
	Name       string `mapstructure:"name"`
	Kind       string `mapstructure:"kind"` // one_to_one | one_to_many | many_to_many
	Store      string `mapstructure:"store"`
	ForeignKey string `mapstructure:"foreign_key"`
	LocalKey   string `mapstructure:"local_key"` // defaults to id
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", "./bunquery.db")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
	v.SetDefault("query.relation_concurrency", 1)
	v.SetDefault("query.strict_operators", false)
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return mustLoad(viper.New())
}

// mustLoad panics when v does not produce a valid configuration.
func mustLoad(v *viper.Viper) *Config {
	cfg, err := load(v, "", nil)
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads defaults, then the optional config file at path (yaml, json or toml),
// then BUNQUERY_ environment variables.
func Load(path string) (*Config, error) {
	return load(viper.New(), path, os.Environ())
}

func load(v *viper.Viper, path string, environ []string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// BUNQUERY_STORAGE_DRIVER -> storage.driver. Only known two-level keys are
	// mapped so that underscores inside key names survive.
	for _, envStr := range environ {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], EnvPrefix) {
			continue
		}
		if key, ok := envKey(strings.TrimPrefix(pair[0], EnvPrefix)); ok {
			v.Set(key, pair[1])
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var sections = []string{"storage", "log", "query", "metrics"}

func envKey(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, section := range sections {
		if strings.HasPrefix(name, section+"_") {
			return section + "." + strings.TrimPrefix(name, section+"_"), true
		}
	}
	return "", false
}

// Validate checks driver settings and model declarations.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("%w: model name is required", ErrInvalidConfig)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: duplicate model %q", ErrInvalidConfig, m.Name)
		}
		seen[m.Name] = true
		for _, r := range m.Relations {
			if r.Name == "" || r.Store == "" || r.ForeignKey == "" {
				return fmt.Errorf("%w: relation on model %q needs name, store and foreign_key", ErrInvalidConfig, m.Name)
			}
			switch r.Kind {
			case "one_to_one", "one_to_many", "many_to_many":
			default:
				return fmt.Errorf("%w: relation %s.%s has unknown kind %q", ErrInvalidConfig, m.Name, r.Name, r.Kind)
			}
		}
	}
	return nil
}
