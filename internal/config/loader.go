package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const configName = "authgate"

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for authgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError,
		// which callers treat as env-only mode.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// AUTHGATE_PROVIDER_URL overrides provider.url
	viper.SetEnvPrefix("AUTHGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set are not overridden and missing files
// are skipped. With no arguments it loads ./.env.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".authgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "authgate"))
		}
	} else {
		paths = append(paths, "/etc/authgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first authgate.yaml or authgate.yml
// found in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so AutomaticEnv can resolve them
// during Unmarshal.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"provider.url",
		"provider.anon_key",
		"provider.timeout",
		"auth.signout_policy",
		"auth.auto_refresh",
		"auth.refresh_margin",
		"auth.retry_interval",
		"session.suppress_stale_results",
		"session.queue_size",
		"storage.backend",
		"storage.path",
		"routes.protected",
		"routes.public",
		"server.addr",
		"telemetry.trace_stdout",
		"telemetry.metrics_stdout",
		"telemetry.metric_interval",
		"log_level",
		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
	// server.allowed_origins is a list; set it in the config file.
}

// LoadConfig reads the configuration, applies defaults and dev defaults,
// and validates it.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults but does not
// apply dev defaults or validate. Use it when CLI flags may still change
// DevMode.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or ""
// in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
