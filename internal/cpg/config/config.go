// Package config loads cpg settings from a file, the environment and flags.
//
// Precedence follows viper: flags, then CPG_* environment variables, then
// cpg.toml / cpg.yaml, then the defaults below. Environment keys replace
// dots with underscores, so db.path is CPG_DB_PATH.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/etenlab/core/internal/cpg/cpgerr"
)

// FileName is the config file name without extension.
const FileName = "cpg"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CPG"

// Config is the effective configuration.
type Config struct {
	DB        DBConfig        `mapstructure:"db" yaml:"db"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	State     StateConfig     `mapstructure:"state" yaml:"state"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

type DBConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Driver string `mapstructure:"driver" yaml:"driver"`
}

type ServerConfig struct {
	// URL of the peer this client syncs with. Empty disables network sync.
	URL       string  `mapstructure:"url" yaml:"url"`
	Listen    string  `mapstructure:"listen" yaml:"listen"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type StateConfig struct {
	// Dir holds the sync bookkeeping. It defaults to the database path
	// plus StateSuffix, so each database keeps its own layers. StateMemory
	// keeps it in memory for the life of the process.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// StateSuffix is appended to db.path to form the default state.dir.
const StateSuffix = ".state"

// StateMemory as state.dir keeps sync state in memory.
const StateMemory = ":memory:"

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Inbox    string        `mapstructure:"inbox" yaml:"inbox"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

var defaults = map[string]any{
	"db.path":           "cpg.db",
	"db.driver":         "sqlite3",
	"server.url":        "",
	"server.listen":     ":8090",
	"server.rate_limit": 50.0,
	"server.burst":      100,
	"state.dir":         "",
	"log.level":         "info",
	"log.file":          "",
	"daemon.interval":   time.Minute,
	"daemon.debounce":   200 * time.Millisecond,
	"daemon.inbox":      "",
	"dashboard.port":    8080,
}

// SetDefaults registers every key with its default on v. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// NewViper returns a viper instance with defaults, search paths and
// environment binding set up. A non-empty file replaces the search.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file if there is one and returns the validated
// configuration. A missing file is not an error; a missing explicit file is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with nothing overridden.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// The defaults table always decodes.
	_ = v.Unmarshal(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DB.Driver) == "" {
		cfg.DB.Driver = defaults["db.driver"].(string)
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = defaults["db.path"].(string)
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = defaults["server.listen"].(string)
	}
	if strings.TrimSpace(cfg.State.Dir) == "" {
		cfg.State.Dir = cfg.DB.Path + StateSuffix
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = defaults["log.level"].(string)
	}
	if cfg.Daemon.Debounce <= 0 {
		cfg.Daemon.Debounce = defaults["daemon.debounce"].(time.Duration)
	}
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite3", "sqlite", "libsql":
	default:
		return cpgerr.Validation(fmt.Sprintf("db.driver must be one of: sqlite3, sqlite, libsql, got %q", c.DB.Driver))
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return cpgerr.Validation("db.path must not be empty")
	}
	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return cpgerr.Validation(fmt.Sprintf("server.url must be an http(s) URL, got %q", c.Server.URL))
		}
	}
	if c.Server.RateLimit < 0 {
		return cpgerr.Validation("server.rate_limit must be >= 0")
	}
	if c.Server.Burst < 0 {
		return cpgerr.Validation("server.burst must be >= 0")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return cpgerr.Validation(fmt.Sprintf("log.level: %v", err))
	}
	if c.Daemon.Interval < 0 {
		return cpgerr.Validation("daemon.interval must be >= 0")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return cpgerr.Validation(fmt.Sprintf("dashboard.port out of range: %d", c.Dashboard.Port))
	}
	return nil
}

// WriteDefault writes the default configuration as TOML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return cpgerr.AlreadyExists("config file", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	enc.Indent = ""
	if err := enc.Encode(fileDefaults()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileDefaults nests the dotted defaults into tables. Durations are written
// in their string form so the file stays readable.
func fileDefaults() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for key, value := range defaults {
		section, name, _ := strings.Cut(key, ".")
		if out[section] == nil {
			out[section] = make(map[string]any)
		}
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		out[section][name] = value
	}
	return out
}

// YAML renders c for display.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}
