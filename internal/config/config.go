// Package config provides configuration loading from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sokosumi/internal/apperrors"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults shared by the CLI and its tests.
const (
	DefaultAPIURL           = "https://api.sokosumi.com/v1"
	DefaultStateFile        = "~/.openclaw/sokosumi-state.json"
	DefaultConfigFile       = "~/.openclaw/sokosumi.yaml"
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultMaxChecks        = 20 // 20 checks * 5 min = 100 min
	DefaultSchedulerBinary  = "openclaw"
	DefaultSchedulerTimeout = 10 * time.Second
)

// Config holds configuration for a single CLI invocation.
type Config struct {
	APIKey           string
	APIURL           string
	StateFile        string
	HTTPTimeout      time.Duration
	MaxChecks        int
	SchedulerBinary  string
	SchedulerTimeout time.Duration
	MetricsFile      string // Prometheus textfile written after each run (empty to skip)
	LogLevel         string
	LogFormat        string // "text" or "json"
}

// FileConfig is the on-disk YAML configuration. Every field is optional and
// loses to the matching environment variable.
type FileConfig struct {
	APIKey          string `yaml:"apiKey"`
	APIEndpoint     string `yaml:"apiEndpoint"`
	StateFile       string `yaml:"stateFile"`
	MaxChecks       int    `yaml:"maxChecks"`
	SchedulerBinary string `yaml:"schedulerBinary"`
	MetricsFile     string `yaml:"metricsFile"`
}

// LoadFile reads a YAML config file. A missing file is not an error.
func LoadFile(path string) (*FileConfig, error) {
	fc := &FileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return nil, apperrors.Configuration("config", fmt.Sprintf("failed to read config file %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, apperrors.Configuration("config", fmt.Sprintf("invalid config file %s: %v", path, err))
	}
	return fc, nil
}

// Load builds the CLI configuration. Environment variables take precedence
// over the config file, which takes precedence over built-in defaults.
func Load() (*Config, error) {
	fc, err := LoadFile(GetEnv("SOKOSUMI_CONFIG_FILE", DefaultConfigFile))
	if err != nil {
		return nil, err
	}

	apiKey := GetEnv("SOKOSUMI_API_KEY", "")
	if apiKey == "" {
		apiKey = GetSecretFile(GetEnv("SOKOSUMI_API_KEY_FILE", ""))
	}
	if apiKey == "" {
		apiKey = fc.APIKey
	}

	maxChecks := GetIntEnv("SOKOSUMI_MAX_CHECKS", orInt(fc.MaxChecks, DefaultMaxChecks))
	if maxChecks <= 0 {
		maxChecks = DefaultMaxChecks
	}

	return &Config{
		APIKey:           apiKey,
		APIURL:           GetEnv("SOKOSUMI_API_URL", orString(fc.APIEndpoint, DefaultAPIURL)),
		StateFile:        ExpandHome(GetEnv("SOKOSUMI_STATE_FILE", orString(fc.StateFile, DefaultStateFile))),
		HTTPTimeout:      GetDurationEnv("SOKOSUMI_HTTP_TIMEOUT", DefaultHTTPTimeout),
		MaxChecks:        maxChecks,
		SchedulerBinary:  GetEnv("SOKOSUMI_SCHEDULER_BIN", orString(fc.SchedulerBinary, DefaultSchedulerBinary)),
		SchedulerTimeout: GetDurationEnv("SOKOSUMI_SCHEDULER_TIMEOUT", DefaultSchedulerTimeout),
		MetricsFile:      ExpandHome(GetEnv("SOKOSUMI_METRICS_FILE", fc.MetricsFile)),
		LogLevel:         GetEnv("SOKOSUMI_LOG_LEVEL", "warn"),
		LogFormat:        GetEnv("SOKOSUMI_LOG_FORMAT", "text"),
	}, nil
}

func orString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
