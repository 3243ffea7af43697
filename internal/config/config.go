// Package config loads process configuration from defaults, an optional
// config file and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/filmindex/catalog-etl/internal/source"
	"github.com/filmindex/catalog-etl/internal/watermark"
)

// Config is the effective process configuration.
type Config struct {
	SQL       SQLConfig       `mapstructure:"sql" yaml:"sql"`
	Elastic   ElasticConfig   `mapstructure:"elastic" yaml:"elastic"`
	State     StateConfig     `mapstructure:"state" yaml:"state"`
	Poll      PollConfig      `mapstructure:"poll" yaml:"poll"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

// SQLConfig addresses the relational source.
type SQLConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	Schema   string `mapstructure:"schema" yaml:"schema"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ElasticConfig addresses the search index. URL wins over Host/Port.
type ElasticConfig struct {
	URL  string `mapstructure:"url" yaml:"url,omitempty"`
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// StateConfig selects the watermark store.
type StateConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// PollConfig tunes the incremental loop.
type PollConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// LogConfig enables a rotating log file next to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DashboardConfig enables the websocket dashboard when Port > 0.
type DashboardConfig struct {
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// envBindings maps config keys to the environment names of the deployment.
var envBindings = map[string]string{
	"sql.host":        "SQL_HOST",
	"sql.port":        "SQL_PORT",
	"sql.user":        "SQL_USER",
	"sql.password":    "SQL_PASSWORD",
	"sql.database":    "SQL_DATABASE",
	"sql.schema":      "SQL_SCHEMA",
	"elastic.url":     "ELASTIC_URL",
	"elastic.host":    "ELASTIC_HOST",
	"elastic.port":    "ELASTIC_PORT",
	"state.backend":   "ETL_STATE_BACKEND",
	"state.path":      "ETL_STATE_PATH",
	"poll.interval":   "ETL_POLL_INTERVAL",
	"poll.batch_size": "ETL_BATCH_SIZE",
	"log.file":        "ETL_LOG_FILE",
	"dashboard.port":  "ETL_DASHBOARD_PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sql.host", "localhost")
	v.SetDefault("sql.port", 5432)
	v.SetDefault("sql.user", "app")
	v.SetDefault("sql.password", "")
	v.SetDefault("sql.database", "movies_database")
	v.SetDefault("sql.schema", "")
	v.SetDefault("sql.sslmode", "disable")
	v.SetDefault("elastic.url", "")
	v.SetDefault("elastic.host", "localhost")
	v.SetDefault("elastic.port", 9200)
	v.SetDefault("state.backend", watermark.BackendFile)
	v.SetDefault("state.path", "state.json")
	v.SetDefault("poll.interval", 2*time.Second)
	v.SetDefault("poll.batch_size", 100)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("dashboard.host", "")
	v.SetDefault("dashboard.port", 0)
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		// BindEnv only fails on an empty key.
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads the optional config file at path (empty skips it), applies
// the environment and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SQL.Host) == "" {
		errs = append(errs, errors.New("sql.host is required"))
	}
	if c.SQL.Port <= 0 {
		errs = append(errs, fmt.Errorf("sql.port must be positive, got %d", c.SQL.Port))
	}
	if c.Elastic.URL == "" && strings.TrimSpace(c.Elastic.Host) == "" {
		errs = append(errs, errors.New("elastic.host or elastic.url is required"))
	}
	switch c.State.Backend {
	case watermark.BackendFile, watermark.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval))
	}
	if c.Poll.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("poll.batch_size must be positive, got %d", c.Poll.BatchSize))
	}
	if c.Dashboard.Port < 0 {
		errs = append(errs, fmt.Errorf("dashboard.port must not be negative, got %d", c.Dashboard.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Source converts the sql section for source.Open.
func (c *Config) Source() source.Config {
	return source.Config{
		Host:     c.SQL.Host,
		Port:     c.SQL.Port,
		User:     c.SQL.User,
		Password: c.SQL.Password,
		Database: c.SQL.Database,
		Schema:   c.SQL.Schema,
		SSLMode:  c.SQL.SSLMode,
	}
}

// ElasticURL returns the index endpoint.
func (c *Config) ElasticURL() string {
	if c.Elastic.URL != "" {
		return c.Elastic.URL
	}
	return "http://" + net.JoinHostPort(c.Elastic.Host, strconv.Itoa(c.Elastic.Port))
}

// YAML renders the configuration with the password masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.SQL.Password != "" {
		masked.SQL.Password = "********"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
