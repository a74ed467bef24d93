// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"merchant-cohort-lab/internal/storage"
)

// EnvPrefix prefixes every environment variable, e.g. COHORTLAB_SOURCE.
const EnvPrefix = "COHORTLAB"

// Sources.
const (
	SourceFixtures   = "fixtures"
	SourceFile       = "file"
	SourcePostgres   = "postgres"
	SourceClickhouse = "clickhouse"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
)

// Ranking engines.
const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every runtime setting. Cobra flags may override fields after Load.
type Config struct {
	Source        string `envconfig:"SOURCE" default:"fixtures"`
	DataPath      string `envconfig:"DATA_PATH"`
	MetaPath      string `envconfig:"META_PATH"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	ClickhouseDSN string `envconfig:"CLICKHOUSE_DSN"`
	FactTable     string `envconfig:"FACT_TABLE" default:"merchant_cohorts"`

	CacheBackend string        `envconfig:"CACHE_BACKEND" default:"file"`
	CachePath    string        `envconfig:"CACHE_PATH" default:".cache/long_form.bin.zst"`
	RedisURL     string        `envconfig:"REDIS_URL"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	RankEngine    string `envconfig:"RANK_ENGINE" default:"memory"`
	CohortRollup  bool   `envconfig:"COHORT_ROLLUP" default:"true"`
	SegmentRollup bool   `envconfig:"SEGMENT_ROLLUP" default:"true"`

	OutputDir string `envconfig:"OUTPUT_DIR" default:"out"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads optional dotenv files (".env" when none are named) and then the environment.
// A missing default .env is not an error; a missing named file is.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and missing connection settings.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceFixtures:
	case SourceFile:
		if c.DataPath == "" {
			return fmt.Errorf("%w: source file needs %s_DATA_PATH", ErrInvalidConfig, EnvPrefix)
		}
	case SourcePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: source postgres needs %s_POSTGRES_DSN", ErrInvalidConfig, EnvPrefix)
		}
	case SourceClickhouse:
		if c.ClickhouseDSN == "" {
			return fmt.Errorf("%w: source clickhouse needs %s_CLICKHOUSE_DSN", ErrInvalidConfig, EnvPrefix)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidConfig, c.Source)
	}
	if c.Source != SourceFixtures && c.MetaPath == "" {
		return fmt.Errorf("%w: source %s needs %s_META_PATH", ErrInvalidConfig, c.Source, EnvPrefix)
	}
	if c.Source == SourcePostgres || c.Source == SourceClickhouse {
		if err := storage.ValidateIdentifier(c.FactTable); err != nil {
			return fmt.Errorf("%w: fact table: %v", ErrInvalidConfig, err)
		}
	}

	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CacheFile:
		if c.CachePath == "" {
			return fmt.Errorf("%w: file cache needs %s_CACHE_PATH", ErrInvalidConfig, EnvPrefix)
		}
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis cache needs %s_REDIS_URL", ErrInvalidConfig, EnvPrefix)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.CacheBackend)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: negative cache ttl", ErrInvalidConfig)
	}

	switch c.RankEngine {
	case EngineMemory, EngineSQLite:
	default:
		return fmt.Errorf("%w: unknown rank engine %q", ErrInvalidConfig, c.RankEngine)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
