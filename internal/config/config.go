package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"spatialstat/internal"
	"spatialstat/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig
	Analysis AnalysisConfig
	Logging  LoggingConfig
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// AnalysisConfig holds the defaults applied to analysis requests that leave
// a parameter unset
type AnalysisConfig struct {
	DefaultPermutations int
	DefaultSignificance float64
	Timeout             time.Duration
	// Seed 0 means every run draws a time-based seed.
	Seed            int64
	MaxObservations int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level internal.LogLevel
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	analysisConfig, err := loadAnalysisConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load analysis configuration")
	}

	loggingConfig, err := loadLoggingConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	config := &Config{
		Server:   *loadServerConfig(),
		Analysis: *analysisConfig,
		Logging:  *loggingConfig,
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// NewLogger builds the application logger from the configured level
func (c *Config) NewLogger() *internal.Logger {
	return internal.NewLogger(c.Logging.Level)
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func loadAnalysisConfig() (*AnalysisConfig, error) {
	seed, err := getEnvInt64OrDefault("RNG_SEED", 0)
	if err != nil {
		return nil, err
	}
	return &AnalysisConfig{
		DefaultPermutations: getEnvIntOrDefault("DEFAULT_PERMUTATIONS", 999),
		DefaultSignificance: getEnvFloatOrDefault("DEFAULT_SIGNIFICANCE", 0.05),
		Timeout:             getEnvDurationOrDefault("ANALYSIS_TIMEOUT", 60*time.Second),
		Seed:                seed,
		MaxObservations:     getEnvIntOrDefault("MAX_OBSERVATIONS", 20000),
	}, nil
}

func loadLoggingConfig() (*LoggingConfig, error) {
	value := os.Getenv("LOG_LEVEL")
	if value == "" {
		return &LoggingConfig{Level: internal.LogLevelInfo}, nil
	}
	level, ok := internal.ParseLogLevel(value)
	if !ok {
		return nil, errors.ConfigInvalid(fmt.Sprintf("LOG_LEVEL %q is not one of ERROR, WARN, INFO, DEBUG, TRACE", value))
	}
	return &LoggingConfig{Level: level}, nil
}

func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	if config.Analysis.DefaultPermutations < 1 {
		return errors.ConfigInvalid("DEFAULT_PERMUTATIONS must be a positive integer")
	}
	if !(config.Analysis.DefaultSignificance > 0 && config.Analysis.DefaultSignificance < 1) {
		return errors.ConfigInvalid("DEFAULT_SIGNIFICANCE must lie strictly between 0 and 1")
	}
	if config.Analysis.Timeout < 0 {
		return errors.ConfigInvalid("ANALYSIS_TIMEOUT must not be negative")
	}
	if config.Analysis.MaxObservations < 3 {
		return errors.ConfigInvalid("MAX_OBSERVATIONS must be at least 3")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be an integer", key))
	}
	return parsed, nil
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
