// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for local spool and history files (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Object store (S3 or any S3-compatible endpoint)
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Optional custom endpoint (e.g. R2); empty = AWS default
	S3AccessKey string // Optional static credentials; empty = default chain
	S3SecretKey string
	BasePrefix  string // Key prefix under which all documents live

	// Strategies served by this instance. Each strategy gets its own
	// baseline/pointer/log documents under BasePrefix/<strategy>/.
	Strategies []string

	// Valuation parameters
	Capital            float64 // Capital base for weight notionals
	InitialCapital     float64 // Reference for cumulative P&L
	DeviationThreshold float64 // Fractional PV jump beyond which a tick is rejected

	// Daily rebalance file release convention (filename suffix)
	CSVReleaseSuffix string

	// Cadences (cron spec format, seconds granularity enabled)
	PriceCadence     string
	ValuationCadence string
	RebalanceCadence string

	// Freshness / timeouts
	SnapshotStaleAfter time.Duration // Snapshot older than this is reported stale
	FetchTimeout       time.Duration // Bound on any single network call

	// Live mark-price stream (falls back to REST polling when disabled)
	StreamEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PULSE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8002),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		S3Bucket:    getEnv("S3_BUCKET", "dfi-signal-dashboard"),
		S3Region:    getEnv("S3_REGION", "eu-west-3"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		BasePrefix:  getEnv("S3_BASE_PREFIX", "signal-dashboard/data"),

		Strategies: splitList(getEnv("STRATEGIES", "combined_descartes_unravel")),

		Capital:            getEnvAsFloat("CAPITAL", 1_000_000.0),
		InitialCapital:     getEnvAsFloat("INITIAL_CAPITAL", 1_000_000.0),
		DeviationThreshold: getEnvAsFloat("DEVIATION_THRESHOLD", 0.05),

		CSVReleaseSuffix: getEnv("CSV_RELEASE_SUFFIX", "-2355.csv"),

		PriceCadence:     getEnv("PRICE_CADENCE", "@every 60s"),
		ValuationCadence: getEnv("VALUATION_CADENCE", "@every 60s"),
		RebalanceCadence: getEnv("REBALANCE_CADENCE", "@every 60s"),

		SnapshotStaleAfter: getEnvAsDuration("SNAPSHOT_STALE_AFTER", 5*time.Minute),
		FetchTimeout:       getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),

		StreamEnabled: getEnvAsBool("STREAM_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	if c.Capital <= 0 {
		return fmt.Errorf("CAPITAL must be positive, got %f", c.Capital)
	}
	if c.DeviationThreshold <= 0 || c.DeviationThreshold >= 1 {
		return fmt.Errorf("DEVIATION_THRESHOLD must be in (0, 1), got %f", c.DeviationThreshold)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
