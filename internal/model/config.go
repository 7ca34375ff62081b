package model

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides, e.g. SORTIFY_BACKEND_BASE_URL.
const envPrefix = "SORTIFY"

// BackendConfig points at the Sortify REST API.
type BackendConfig struct {
	// BaseURL is the API root; endpoint paths such as /auth/login are
	// appended to it.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds a single HTTP exchange.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// RealtimeConfig holds the notification stream settings.
type RealtimeConfig struct {
	// URL is the ws:// or wss:// address of the notification stream.
	URL string `mapstructure:"url" yaml:"url"`

	// MaxAttempts caps automatic reconnects after an abnormal close.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BaseDelayMS is multiplied by the attempt number to get the
	// reconnect delay.
	BaseDelayMS int `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`

	// Topics are subscribed to on every successful connect.
	Topics []string `mapstructure:"topics" yaml:"topics"`

	// StatusPollSec is how often the client asks for sync status while
	// connected.
	StatusPollSec int `mapstructure:"status_poll_sec" yaml:"status_poll_sec"`
}

// StorageConfig locates local state.
type StorageConfig struct {
	DBPath         string `mapstructure:"db_path" yaml:"db_path"`
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`
	KeyringDir     string `mapstructure:"keyring_dir" yaml:"keyring_dir"`
}

// OAuthConfig controls the loopback redirect listener.
type OAuthConfig struct {
	CallbackAddr string `mapstructure:"callback_addr" yaml:"callback_addr"`

	// TimeoutSec is how long a browser sign-in may take before it is
	// abandoned.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	OAuth    OAuthConfig    `mapstructure:"oauth" yaml:"oauth"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigDir returns ~/.config/sortify, or the working directory
// when the home directory cannot be resolved.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sortify")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultTopics are the realtime events the dashboard listens to.
func DefaultTopics() []string {
	return []string{EventEmailSynced, EventCategoryUpdated, EventSyncStatus}
}

func setDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()

	v.SetDefault("backend.base_url", "http://localhost:5000/api")
	v.SetDefault("backend.timeout_sec", 30)
	v.SetDefault("realtime.url", "ws://localhost:5000/ws")
	v.SetDefault("realtime.max_attempts", 5)
	v.SetDefault("realtime.base_delay_ms", 3000)
	v.SetDefault("realtime.topics", DefaultTopics())
	v.SetDefault("realtime.status_poll_sec", 60)
	v.SetDefault("storage.db_path", filepath.Join(dir, "sortify.db"))
	v.SetDefault("storage.keyring_service", "sortify")
	v.SetDefault("storage.keyring_dir", filepath.Join(dir, "credentials"))
	v.SetDefault("oauth.callback_addr", "127.0.0.1:8765")
	v.SetDefault("oauth.timeout_sec", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(dir, "sortify.log"))
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults. SORTIFY_* environment variables
// override both.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if len(cfg.Realtime.Topics) == 0 {
		cfg.Realtime.Topics = DefaultTopics()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("config: backend.base_url must be set")
	}

	u, err := url.Parse(c.Realtime.URL)
	if err != nil {
		return fmt.Errorf("config: realtime.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: realtime.url must use ws or wss, got %q", u.Scheme)
	}

	if c.Realtime.MaxAttempts < 1 {
		return errors.New("config: realtime.max_attempts must be at least 1")
	}
	if c.Realtime.BaseDelayMS < 1 {
		return errors.New("config: realtime.base_delay_ms must be positive")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("realtime", cfg.Realtime)
	v.Set("storage", cfg.Storage)
	v.Set("oauth", cfg.OAuth)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
