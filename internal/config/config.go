// Package config loads SeedShare settings from defaults, a YAML file, a .env
// file and SEEDSHARE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SEEDSHARE_SERVER_PORT.
const EnvPrefix = "SEEDSHARE"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Deluge    DelugeConfig    `mapstructure:"deluge" yaml:"deluge"`
	Poll      PollConfig      `mapstructure:"poll" yaml:"poll"`
	Downloads DownloadsConfig `mapstructure:"downloads" yaml:"downloads"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Users     []string        `mapstructure:"users" yaml:"users"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// DelugeConfig configures the download-manager CLI.
type DelugeConfig struct {
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Workers int           `mapstructure:"workers" yaml:"workers"`
}

// PollConfig configures session info polling.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// DownloadsConfig configures per-user download folders.
type DownloadsConfig struct {
	HomeTemplate string `mapstructure:"home_template" yaml:"home_template"`
	MinFreeMB    int64  `mapstructure:"min_free_mb" yaml:"min_free_mb"`
}

// StorageConfig configures the object store.
type StorageConfig struct {
	Bucket     string `mapstructure:"bucket" yaml:"bucket"`
	Region     string `mapstructure:"region" yaml:"region"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle  bool   `mapstructure:"path_style" yaml:"path_style"`
	PartSizeMB int64  `mapstructure:"part_size_mb" yaml:"part_size_mb"`
	ACL        string `mapstructure:"acl" yaml:"acl"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			BufferSize: 500,
		},
		Deluge: DelugeConfig{
			Binary:  "deluge-console",
			Timeout: 30 * time.Second,
			Workers: 4,
		},
		Poll: PollConfig{
			Interval: 5 * time.Second,
		},
		Downloads: DownloadsConfig{
			HomeTemplate: "/home/{user}/downloads",
			MinFreeMB:    1024,
		},
		Storage: StorageConfig{
			Region:     "us-east-1",
			PartSizeMB: 5,
			ACL:        "public-read",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
// A .env file in the working directory is loaded into the environment first
// without overriding variables that are already set.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.seedshare")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Users = normalizeUsers(cfg.Users)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.buffer_size", d.Logging.BufferSize)

	v.SetDefault("deluge.binary", d.Deluge.Binary)
	v.SetDefault("deluge.timeout", d.Deluge.Timeout)
	v.SetDefault("deluge.workers", d.Deluge.Workers)

	v.SetDefault("poll.interval", d.Poll.Interval)

	v.SetDefault("downloads.home_template", d.Downloads.HomeTemplate)
	v.SetDefault("downloads.min_free_mb", d.Downloads.MinFreeMB)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.path_style", false)
	v.SetDefault("storage.part_size_mb", d.Storage.PartSizeMB)
	v.SetDefault("storage.acl", d.Storage.ACL)

	v.SetDefault("users", []string{})
}

// normalizeUsers accepts a YAML list or a comma separated env value.
func normalizeUsers(users []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, entry := range users {
		for _, u := range strings.Split(entry, ",") {
			u = strings.TrimSpace(u)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if !strings.Contains(c.Downloads.HomeTemplate, "{user}") {
		errs = append(errs, fmt.Errorf("downloads.home_template %q must contain {user}", c.Downloads.HomeTemplate))
	}
	if c.Deluge.Workers < 1 {
		errs = append(errs, fmt.Errorf("deluge.workers must be at least 1"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval must be positive"))
	}
	return errors.Join(errs...)
}

// Dump writes the effective configuration as YAML in the same layout Load reads.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
