// Package config loads contribrank settings from a YAML file, an optional
// .env file and CONTRIBRANK_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/contribrank/internal/lexical"
	"github.com/dshills/contribrank/internal/searcher"
	"github.com/dshills/contribrank/internal/vectorindex"
)

// StoreStrategy selects the backing store and where the similarity indexes live.
type StoreStrategy string

const (
	// StrategySQLite keeps entities in SQLite and the indexes in process memory.
	StrategySQLite StoreStrategy = "sqlite"
	// StrategyPostgres keeps entities and indexes in Postgres (pgvector, pg_trgm).
	StrategyPostgres StoreStrategy = "postgres"
)

const (
	// AppDir is the directory name under the XDG config and data homes.
	AppDir = "contribrank"
	// ConfigFile is the config file name.
	ConfigFile = "config.yaml"
	// envPrefix prefixes every environment override.
	envPrefix = "CONTRIBRANK_"
)

// Config is the complete runtime configuration.
type Config struct {
	Store    StoreConfig        `yaml:"store"`
	Search   SearchConfig       `yaml:"search"`
	HNSW     vectorindex.Config `yaml:"hnsw"`
	Match    searcher.Weights   `yaml:"match"`
	LogLevel string             `yaml:"log_level"`
}

// StoreConfig selects and locates the store.
type StoreConfig struct {
	Strategy    StoreStrategy `yaml:"strategy"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// SearchConfig tunes query execution.
type SearchConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
	PhraseBoost         float64       `yaml:"phrase_boost"`
	LexicalThreshold    float64       `yaml:"lexical_threshold"`
	ExactVectors        bool          `yaml:"exact_vectors"`
	BuildWorkers        int           `yaml:"build_workers"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Strategy:   StrategySQLite,
			SQLitePath: filepath.Join(dataHome(), AppDir, "contribrank.db"),
		},
		Search: SearchConfig{
			Timeout:             searcher.DefaultTimeout,
			CandidateMultiplier: searcher.DefaultCandidateMultiplier,
			PhraseBoost:         lexical.DefaultPhraseBoost,
			LexicalThreshold:    lexical.DefaultThreshold,
			BuildWorkers:        3,
		},
		HNSW:     vectorindex.DefaultConfig(),
		Match:    searcher.DefaultMatchWeights,
		LogLevel: "info",
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/contribrank/config.yaml, falling back
// to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDir, ConfigFile)
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// Load builds the configuration from defaults, the YAML file at path, a .env
// file in the working directory and the process environment, then validates
// it. An empty path means DefaultPath, which may be absent; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto c. Unknown keys are rejected.
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadDotEnv loads variables from a .env file without overriding ones already
// set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from CONTRIBRANK_* variables, read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("STORE"); ok {
		c.Store.Strategy = StoreStrategy(strings.ToLower(v))
	}
	if v, ok := get("DB_PATH"); ok {
		c.Store.SQLitePath = v
	}
	if v, ok := get("POSTGRES_DSN"); ok {
		c.Store.PostgresDSN = v
	}
	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", envPrefix, err)
		}
		c.Search.Timeout = d
	}
	if v, ok := get("EF_SEARCH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sEF_SEARCH: %w", envPrefix, err)
		}
		c.HNSW.EfSearch = n
	}
	if v, ok := get("EXACT_VECTORS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sEXACT_VECTORS: %w", envPrefix, err)
		}
		c.Search.ExactVectors = b
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Strategy {
	case StrategySQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite strategy")
		}
	case StrategyPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres strategy")
		}
	default:
		return fmt.Errorf("store.strategy must be %q or %q, got %q", StrategySQLite, StrategyPostgres, c.Store.Strategy)
	}

	if c.Search.Timeout <= 0 {
		return fmt.Errorf("search.timeout must be positive, got %s", c.Search.Timeout)
	}
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be >= 1, got %d", c.Search.CandidateMultiplier)
	}
	if c.Search.PhraseBoost < 0.5 || c.Search.PhraseBoost > 1 {
		return fmt.Errorf("search.phrase_boost must be within [0.5, 1], got %g", c.Search.PhraseBoost)
	}
	if c.Search.LexicalThreshold <= 0 || c.Search.LexicalThreshold > 1 {
		return fmt.Errorf("search.lexical_threshold must be within (0, 1], got %g", c.Search.LexicalThreshold)
	}
	if c.Search.BuildWorkers < 1 {
		return fmt.Errorf("search.build_workers must be >= 1, got %d", c.Search.BuildWorkers)
	}

	if c.HNSW.M < 2 {
		return fmt.Errorf("hnsw.m must be >= 2, got %d", c.HNSW.M)
	}
	if c.HNSW.EfConstruction < c.HNSW.M {
		return fmt.Errorf("hnsw.ef_construction must be >= hnsw.m, got %d", c.HNSW.EfConstruction)
	}
	if c.HNSW.EfSearch < 1 {
		return fmt.Errorf("hnsw.ef_search must be >= 1, got %d", c.HNSW.EfSearch)
	}

	if err := c.Match.Validate(); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
