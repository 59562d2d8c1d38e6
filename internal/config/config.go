package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	RunState RunStateConfig `mapstructure:"runstate"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	History  HistoryConfig  `mapstructure:"history"`
	Tasks    []TaskConfig   `mapstructure:"tasks"`
	Sinks    []SinkConfig   `mapstructure:"sinks"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for the SQLite database file
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Name == ":memory:" {
			return "file::memory:?cache=shared"
		}
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// StorageConfig locates asset blobs uploaded through the API and read by the
// checksum check.
type StorageConfig struct {
	LocalPath   string `mapstructure:"local_path"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AuthConfig struct {
	JWTSecret string         `mapstructure:"jwt_secret"`
	Clients   []ClientConfig `mapstructure:"clients"`
}

// ClientConfig is an API client allowed to exchange its secret for a token.
type ClientConfig struct {
	ID         string   `mapstructure:"id"`
	SecretHash string   `mapstructure:"secret_hash"` // bcrypt
	Roles      []string `mapstructure:"roles"`
}

type RunStateConfig struct {
	Path string `mapstructure:"path"`
}

type BrowserConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// TaskConfig is one scheduled deployment task.
type TaskConfig struct {
	Name                   string         `mapstructure:"name"`
	Repository             string         `mapstructure:"repository"`
	Filter                 string         `mapstructure:"filter"`
	Selector               string         `mapstructure:"selector"`
	FreshnessOffsetMinutes int            `mapstructure:"freshness_offset_minutes"`
	IntervalSeconds        int            `mapstructure:"interval_seconds"`
	Checks                 []CheckConfig  `mapstructure:"checks"`
	Settings               map[string]any `mapstructure:"settings"`
}

// CheckConfig instantiates one validation check. Type selects the
// implementation, Name labels its failures.
type CheckConfig struct {
	Name     string         `mapstructure:"name"`
	Type     string         `mapstructure:"type"`
	Settings map[string]any `mapstructure:"settings"`
}

// SinkConfig is one run summary destination.
type SinkConfig struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`   // kafka, nats, webhook, mock
	Format  string            `mapstructure:"format"` // msgpack or json
	Brokers []string          `mapstructure:"brokers"`
	NatsURL string            `mapstructure:"nats_url"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"` // values may reference {{env.VAR}}
	Topic   string            `mapstructure:"topic"`
}

// Flags returns the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("deployer", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.Int("server.port", 8080, "HTTP port")
	fs.String("log.level", "info", "Log level (debug, info, warn, error)")
	fs.Bool("log.pretty", false, "Human readable console logs")
	fs.String("database.driver", "postgres", "Database driver (postgres or sqlite)")
	return fs
}

// Load reads configuration from the file named by the "config" flag (or
// deployer.yaml in the working directory), the environment (DEPLOYER_*) and
// flags. A missing default config file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "deployer")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.local_path", "./blobs")
	v.SetDefault("storage.max_upload_mb", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("runstate.path", "./data/runstate")
	v.SetDefault("browser.page_size", 100)
	v.SetDefault("history.retention_days", 30)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("deployer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/deployer")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks task and sink definitions.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, t.Name)
		}
		seen[t.Name] = true
		if t.Repository == "" {
			return fmt.Errorf("task %s: repository is required", t.Name)
		}
		if t.FreshnessOffsetMinutes < 0 {
			return fmt.Errorf("task %s: freshness_offset_minutes must not be negative", t.Name)
		}
		for j, ch := range t.Checks {
			if ch.Type == "" {
				return fmt.Errorf("task %s: checks[%d]: type is required", t.Name, j)
			}
		}
	}
	for i, s := range c.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sinks[%d]: name is required", i)
		}
		if s.Type == "" {
			return fmt.Errorf("sink %s: type is required", s.Name)
		}
	}
	return nil
}

// Task returns the task named name.
func (c *Config) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}
