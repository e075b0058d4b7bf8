package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contribrank/internal/searcher"
	"github.com/dshills/contribrank/internal/vectorindex"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategySQLite, cfg.Store.Strategy)
	assert.Equal(t, searcher.DefaultTimeout, cfg.Search.Timeout)
	assert.Equal(t, vectorindex.DefaultConfig(), cfg.HNSW)
	assert.Equal(t, searcher.DefaultMatchWeights, cfg.Match)
	assert.Equal(t, "contribrank.db", filepath.Base(cfg.Store.SQLitePath))
}

func TestLoadFile(t *testing.T) {
	t.Setenv("CONTRIBRANK_STORE", "")
	path := writeConfig(t, `
store:
  strategy: postgres
  postgres_dsn: postgres://localhost/contribrank?sslmode=disable
search:
  timeout: 750ms
  candidate_multiplier: 6
  phrase_boost: 0.75
  exact_vectors: true
hnsw:
  m: 24
  ef_search: 64
match:
  vector_weight: 0.6
  text_weight: 0.4
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyPostgres, cfg.Store.Strategy)
	assert.Equal(t, 750*time.Millisecond, cfg.Search.Timeout)
	assert.Equal(t, 6, cfg.Search.CandidateMultiplier)
	assert.Equal(t, 0.75, cfg.Search.PhraseBoost)
	assert.True(t, cfg.Search.ExactVectors)
	assert.Equal(t, 24, cfg.HNSW.M)
	assert.Equal(t, 64, cfg.HNSW.EfSearch)
	assert.Equal(t, vectorindex.DefaultEfConstruction, cfg.HNSW.EfConstruction, "unset keys keep defaults")
	assert.Equal(t, searcher.Weights{Vector: 0.6, Text: 0.4}, cfg.Match)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "search:\n  timeout: 1s\n  bogus: true\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err, "the default path may be absent")
	assert.Equal(t, StrategySQLite, cfg.Store.Strategy)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Search, cfg.Search)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"CONTRIBRANK_STORE":         "Postgres",
		"CONTRIBRANK_POSTGRES_DSN":  "postgres://db/contribrank",
		"CONTRIBRANK_DB_PATH":       "/tmp/x.db",
		"CONTRIBRANK_TIMEOUT":       "2s",
		"CONTRIBRANK_EF_SEARCH":     "40",
		"CONTRIBRANK_EXACT_VECTORS": "true",
		"CONTRIBRANK_LOG_LEVEL":     "warn",
		"UNRELATED":                 "ignored",
	}))
	require.NoError(t, err)
	assert.Equal(t, StrategyPostgres, cfg.Store.Strategy)
	assert.Equal(t, "postgres://db/contribrank", cfg.Store.PostgresDSN)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 40, cfg.HNSW.EfSearch)
	assert.True(t, cfg.Search.ExactVectors)
	assert.Equal(t, "warn", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvBlankValuesIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{"CONTRIBRANK_STORE": "  "})))
	assert.Equal(t, StrategySQLite, cfg.Store.Strategy)
}

func TestApplyEnvErrors(t *testing.T) {
	for _, key := range []string{"CONTRIBRANK_TIMEOUT", "CONTRIBRANK_EF_SEARCH", "CONTRIBRANK_EXACT_VECTORS"} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(env(map[string]string{key: "not-a-value"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown strategy", func(c *Config) { c.Store.Strategy = "mongo" }, "store.strategy"},
		{"postgres without dsn", func(c *Config) { c.Store.Strategy = StrategyPostgres }, "postgres_dsn"},
		{"sqlite without path", func(c *Config) { c.Store.SQLitePath = "" }, "sqlite_path"},
		{"zero timeout", func(c *Config) { c.Search.Timeout = 0 }, "search.timeout"},
		{"zero multiplier", func(c *Config) { c.Search.CandidateMultiplier = 0 }, "candidate_multiplier"},
		{"boost too small", func(c *Config) { c.Search.PhraseBoost = 0.2 }, "phrase_boost"},
		{"threshold zero", func(c *Config) { c.Search.LexicalThreshold = 0 }, "lexical_threshold"},
		{"no workers", func(c *Config) { c.Search.BuildWorkers = 0 }, "build_workers"},
		{"tiny m", func(c *Config) { c.HNSW.M = 1 }, "hnsw.m"},
		{"ef construction below m", func(c *Config) { c.HNSW.EfConstruction = 4 }, "ef_construction"},
		{"zero ef search", func(c *Config) { c.HNSW.EfSearch = 0 }, "ef_search"},
		{"zero match weights", func(c *Config) { c.Match = searcher.Weights{} }, "match"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("error")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}

func TestDefaultPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "contribrank", "config.yaml"), DefaultPath())
}
