// Package config loads the pantry CLI configuration from config.yaml in the
// configuration directory. Values can be overridden by PANTRY_* environment
// variables (PANTRY_BACKEND, PANTRY_DATA_DIR, PANTRY_DSN, PANTRY_LOG_LEVEL).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	// FileName is the config file created inside the configuration directory.
	FileName = "config.yaml"

	envPrefix = "PANTRY"

	keyBackend  = "backend"
	keyDataDir  = "data_dir"
	keyDSN      = "dsn"
	keyLogLevel = "log_level"
)

// Defaults applied when neither the file nor the environment set a value.
const (
	DefaultBackend  = types.BackendSQLite
	DefaultLogLevel = "info"
)

// Default returns the configuration written on first run.
func Default() types.Config {
	return types.Config{Backend: DefaultBackend, LogLevel: DefaultLogLevel}
}

// Load reads config.yaml from configDir, creating the directory and a
// default file on first run, and applies environment overrides. The result
// is validated.
func Load(configDir string) (types.Config, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return types.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := WriteDefault(configDir, Default()); err != nil {
		return types.Config{}, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(keyBackend, DefaultBackend)
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{keyBackend, keyDataDir, keyDSN, keyLogLevel} {
		if err := v.BindEnv(key); err != nil {
			return types.Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("config %s: %w", filepath.Join(configDir, FileName), err)
	}
	return cfg, nil
}

// WriteDefault writes cfg to configDir/config.yaml unless the file already
// exists.
func WriteDefault(configDir string, cfg types.Config) error {
	path := filepath.Join(configDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# pantry configuration\n# backend: memory | sqlite | postgres\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}

// ParseLevel maps a log_level value to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
