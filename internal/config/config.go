// Package config provides configuration management for Fleet.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/fleet"
	DefaultConfigFile = "config.yaml"
	DefaultDataDir    = ".local/share/fleet"
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey = errors.New("invalid configuration key")
)

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full Fleet configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Steam   SteamConfig   `mapstructure:"steam" validate:"required"`
	Rcon    RconConfig    `mapstructure:"rcon" validate:"required"`
	Poll    PollConfig    `mapstructure:"poll"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
}

// ServerConfig holds launch settings shared by all instances.
type ServerConfig struct {
	InstallDir     string   `mapstructure:"install_dir" validate:"required"`
	Binary         string   `mapstructure:"binary" validate:"required"`
	DefaultMap     string   `mapstructure:"default_map" validate:"required"`
	StartupTimeout int      `mapstructure:"startup_timeout" validate:"min=1"` // seconds
	StopGrace      int      `mapstructure:"stop_grace" validate:"min=1"`      // seconds
	ExtraArgs      []string `mapstructure:"extra_args"`
}

// SteamConfig holds SteamCMD and workshop settings.
type SteamConfig struct {
	Binary string `mapstructure:"binary" validate:"required"`
	AppID  int    `mapstructure:"app_id" validate:"min=1"`
}

// RconConfig holds RCON client settings.
type RconConfig struct {
	Host        string `mapstructure:"host" validate:"required"`
	Password    string `mapstructure:"password"`
	DialTimeout int    `mapstructure:"dial_timeout" validate:"min=1"` // seconds
	ExecTimeout int    `mapstructure:"exec_timeout" validate:"min=1"` // seconds
}

// PollConfig holds reconciliation poller settings.
type PollConfig struct {
	Interval     int `mapstructure:"interval" validate:"min=1"`      // seconds
	QueryTimeout int `mapstructure:"query_timeout" validate:"min=1"` // seconds
}

// StorageConfig holds storage location configuration.
type StorageConfig struct {
	Database string `mapstructure:"database" validate:"required"`
	Logs     string `mapstructure:"logs" validate:"required"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Loader provides configuration loading and saving.
type Loader struct {
	v       *viper.Viper
	path    string
	homeDir string
}

// NewLoader creates a new configuration loader.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	configPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("FLEET")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific env vars to config keys.
	// We intentionally ignore errors here as BindEnv only fails if called with zero arguments.
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("server.install_dir", "FLEET_INSTALL_DIR")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("rcon.password", "FLEET_RCON_PASSWORD")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("steam.binary", "FLEET_STEAMCMD")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("storage.database", "FLEET_DATABASE")

	l := &Loader{
		v:       v,
		path:    configPath,
		homeDir: home,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l, nil
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("server.install_dir", "~/.local/share/fleet/servers")
	l.v.SetDefault("server.binary", "game/bin/linuxsteamrt64/cs2")
	l.v.SetDefault("server.default_map", "de_dust2")
	l.v.SetDefault("server.startup_timeout", 90)
	l.v.SetDefault("server.stop_grace", 10)
	l.v.SetDefault("server.extra_args", []string{})
	l.v.SetDefault("steam.binary", "steamcmd")
	l.v.SetDefault("steam.app_id", 730)
	l.v.SetDefault("rcon.host", "127.0.0.1")
	l.v.SetDefault("rcon.password", "")
	l.v.SetDefault("rcon.dial_timeout", 3)
	l.v.SetDefault("rcon.exec_timeout", 5)
	l.v.SetDefault("poll.interval", 30)
	l.v.SetDefault("poll.query_timeout", 5)
	l.v.SetDefault("storage.database", "~/.local/share/fleet/fleet.db")
	l.v.SetDefault("storage.logs", "~/.local/share/fleet/logs")
}

// Load reads the configuration file, creating defaults if it doesn't exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand paths
	cfg.Server.InstallDir = l.expandPath(cfg.Server.InstallDir)
	cfg.Storage.Database = l.expandPath(cfg.Storage.Database)
	cfg.Storage.Logs = l.expandPath(cfg.Storage.Logs)

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// Set sets a configuration value by dot-notation key.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	l.v.Set(key, value)
	return l.v.WriteConfig()
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if validKeys[key] {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		// Recurse into nested structs (but not maps)
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}
