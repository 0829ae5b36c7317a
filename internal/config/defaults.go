package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			CacheDir: DefaultCacheDir(),
			Offline:  false,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// DefaultCacheDir returns <user cache dir>/sentembed/models, or a directory
// under the system temp dir when no user cache dir is available.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sentembed", "models")
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}

	result.Model = mergeModelConfig(loaded.Model, defaults.Model)
	result.Log = mergeLogConfig(loaded.Log, defaults.Log)

	return result
}

func mergeModelConfig(loaded, defaults ModelConfig) ModelConfig {
	result := ModelConfig{}

	if loaded.CacheDir != "" {
		result.CacheDir = loaded.CacheDir
	} else {
		result.CacheDir = defaults.CacheDir
	}

	// YAML unmarshals a missing bool as false, which is also the default
	result.Offline = loaded.Offline

	return result
}

func mergeLogConfig(loaded, defaults LogConfig) LogConfig {
	result := LogConfig{}

	if loaded.Level != "" {
		result.Level = loaded.Level
	} else {
		result.Level = defaults.Level
	}

	if loaded.Format != "" {
		result.Format = loaded.Format
	} else {
		result.Format = defaults.Format
	}

	return result
}
