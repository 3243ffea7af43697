package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/filmindex/catalog-etl/internal/watermark"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.SQL.Host)
	assert.Equal(t, 5432, cfg.SQL.Port)
	assert.Empty(t, cfg.SQL.Schema)
	assert.NotContains(t, cfg.Source().DSN(), "search_path", "the server default search_path applies")
	assert.Equal(t, watermark.BackendFile, cfg.State.Backend)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 100, cfg.Poll.BatchSize)
	assert.Equal(t, 0, cfg.Dashboard.Port)
	assert.Equal(t, "http://localhost:9200", cfg.ElasticURL())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SQL_HOST", "db.internal")
	t.Setenv("SQL_PORT", "6543")
	t.Setenv("SQL_PASSWORD", "s3cret")
	t.Setenv("SQL_SCHEMA", "content")
	t.Setenv("ELASTIC_HOST", "es.internal")
	t.Setenv("ELASTIC_PORT", "9201")
	t.Setenv("ETL_STATE_BACKEND", "sqlite")
	t.Setenv("ETL_POLL_INTERVAL", "750ms")
	t.Setenv("ETL_BATCH_SIZE", "25")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.SQL.Host)
	assert.Equal(t, 6543, cfg.SQL.Port)
	assert.Equal(t, "s3cret", cfg.SQL.Password)
	assert.Equal(t, watermark.BackendSQLite, cfg.State.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 25, cfg.Poll.BatchSize)
	assert.Equal(t, "http://es.internal:9201", cfg.ElasticURL())

	src := cfg.Source()
	assert.Equal(t, "db.internal", src.Host)
	assert.Equal(t, "content", src.Schema)
	assert.Contains(t, src.DSN(), "search_path=content")
}

func TestElasticURLOverridesHost(t *testing.T) {
	t.Setenv("ELASTIC_URL", "https://search.example.com:9243")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://search.example.com:9243", cfg.ElasticURL())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.yaml")
	body := `
sql:
  host: from-file
  database: films
poll:
  batch_size: 10
state:
  path: /var/lib/etl/state.db
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("ETL_BATCH_SIZE", "40")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.SQL.Host)
	assert.Equal(t, "films", cfg.SQL.Database)
	assert.Equal(t, "/var/lib/etl/state.db", cfg.State.Path)
	assert.Equal(t, 40, cfg.Poll.BatchSize, "environment wins over the file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty sql host", func(c *Config) { c.SQL.Host = " " }, "sql.host"},
		{"zero sql port", func(c *Config) { c.SQL.Port = 0 }, "sql.port"},
		{"no elastic", func(c *Config) { c.Elastic.Host = ""; c.Elastic.URL = "" }, "elastic.host"},
		{"unknown backend", func(c *Config) { c.State.Backend = "redis" }, `unknown state.backend "redis"`},
		{"empty state path", func(c *Config) { c.State.Path = "" }, "state.path"},
		{"zero interval", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"negative batch", func(c *Config) { c.Poll.BatchSize = -1 }, "poll.batch_size"},
		{"negative dashboard port", func(c *Config) { c.Dashboard.Port = -1 }, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("elastic url alone", func(t *testing.T) {
		cfg := valid()
		cfg.Elastic.Host = ""
		cfg.Elastic.URL = "http://es:9200"
		assert.NoError(t, cfg.Validate())
	})
}

func TestYAMLMasksPassword(t *testing.T) {
	t.Setenv("SQL_PASSWORD", "hunter2")
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Equal(t, "hunter2", cfg.SQL.Password, "original is not modified")

	var back map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "********", back["sql"]["password"])
	assert.Equal(t, "2s", back["poll"]["interval"])
}

func TestLoggingTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etl.log")
	logging := NewLogging(LogConfig{File: path, MaxSizeMB: 1})

	logger := logging.Logger("daemon")
	assert.Equal(t, "[daemon] ", logger.Prefix())
	logger.Println("poll pass complete")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[daemon] "))
	assert.Contains(t, string(data), "poll pass complete")
}

func TestLoggingWithoutFile(t *testing.T) {
	logging := NewLogging(LogConfig{})
	assert.Equal(t, "[index] ", logging.Logger("index").Prefix())
	assert.NoError(t, logging.Close())
}
