package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/matheus3301/mailctl/internal/paths"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g. MAILCTL_LOGGING_LEVEL.
const EnvPrefix = "MAILCTL"

// Config represents ~/.mailctl/config.toml merged with environment overrides.
type Config struct {
	Azure    AzureConfig    `mapstructure:"azure" toml:"azure"`
	Graph    GraphConfig    `mapstructure:"graph" toml:"graph"`
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Storage  StorageConfig  `mapstructure:"storage" toml:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging" toml:"logging"`
	Download DownloadConfig `mapstructure:"download" toml:"download"`
	Metrics  MetricsConfig  `mapstructure:"metrics" toml:"metrics"`
}

// AzureConfig holds the app registration used for the device-code flow.
type AzureConfig struct {
	ClientID  string   `mapstructure:"client_id" toml:"client_id"`
	Tenant    string   `mapstructure:"tenant" toml:"tenant"`
	Authority string   `mapstructure:"authority" toml:"authority"`
	Scopes    []string `mapstructure:"scopes" toml:"scopes"`
}

type GraphConfig struct {
	BaseURL string `mapstructure:"base_url" toml:"base_url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

type StorageConfig struct {
	AttachmentsDir string `mapstructure:"attachments_dir" toml:"attachments_dir"`
	IdentityFile   string `mapstructure:"identity_file" toml:"identity_file"`
	KeyringBackend string `mapstructure:"keyring_backend" toml:"keyring_backend"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" toml:"level"`
}

type DownloadConfig struct {
	Workers int `mapstructure:"workers" toml:"workers"`
}

// MetricsConfig controls the optional node-exporter textfile dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" toml:"textfile"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		Azure: AzureConfig{
			Tenant:    "common",
			Authority: "https://login.microsoftonline.com",
			Scopes: []string{
				"https://graph.microsoft.com/Mail.Read",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
				"openid",
				"profile",
			},
		},
		Graph:    GraphConfig{BaseURL: "https://graph.microsoft.com/v1.0"},
		Database: DatabaseConfig{Path: paths.DBPath()},
		Storage: StorageConfig{
			AttachmentsDir: paths.AttachmentsDir(),
			IdentityFile:   paths.IdentityPath(),
			KeyringBackend: "auto",
		},
		Logging:  LoggingConfig{Level: "info"},
		Download: DownloadConfig{Workers: 4},
	}
}

// Load reads config from path (default ~/.mailctl/config.toml). A missing file is
// not an error: defaults and environment variables still apply. A .env file in
// the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = paths.ConfigPath()
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("azure.client_id", EnvPrefix+"_AZURE_CLIENT_ID", "AZURE_CLIENT_ID")
	_ = v.BindEnv("azure.tenant", EnvPrefix+"_AZURE_TENANT", "AZURE_TENANT_ID")

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Path = paths.Expand(cfg.Database.Path)
	cfg.Storage.AttachmentsDir = paths.Expand(cfg.Storage.AttachmentsDir)
	cfg.Storage.IdentityFile = paths.Expand(cfg.Storage.IdentityFile)
	cfg.Metrics.Textfile = paths.Expand(cfg.Metrics.Textfile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Download.Workers < 1 {
		return fmt.Errorf("download.workers must be at least 1, got %d", c.Download.Workers)
	}
	if len(c.Azure.Scopes) == 0 {
		return errors.New("azure.scopes must not be empty")
	}
	return nil
}

// ErrMissingClientID is returned by RequireClientID.
var ErrMissingClientID = errors.New("azure.client_id is not set (config file, MAILCTL_AZURE_CLIENT_ID or AZURE_CLIENT_ID)")

// RequireClientID reports whether the app registration needed for login and
// refresh is configured.
func (c *Config) RequireClientID() error {
	if c.Azure.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("azure.client_id", d.Azure.ClientID)
	v.SetDefault("azure.tenant", d.Azure.Tenant)
	v.SetDefault("azure.authority", d.Azure.Authority)
	v.SetDefault("azure.scopes", d.Azure.Scopes)
	v.SetDefault("graph.base_url", d.Graph.BaseURL)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("storage.attachments_dir", d.Storage.AttachmentsDir)
	v.SetDefault("storage.identity_file", d.Storage.IdentityFile)
	v.SetDefault("storage.keyring_backend", d.Storage.KeyringBackend)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("download.workers", d.Download.Workers)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
