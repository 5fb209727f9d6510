// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for the journal database, always absolute
	LogLevel            string
	Port                int
	DevMode             bool
	SolveTimeout        time.Duration
	WSMessagesPerSecond float64
	Journal             JournalConfig
	Export              ExportConfig
}

// JournalConfig controls the optimization run journal
type JournalConfig struct {
	Enabled           bool
	RetentionDays     int
	RetentionSchedule string // cron expression with seconds
}

// ExportConfig controls the periodic S3 export of the journal. Export is off
// when Bucket is empty.
type ExportConfig struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string // Optional, falls back to the default AWS credential chain
	SecretAccessKey string
	Schedule        string
}

// Enabled reports whether an export target is configured
func (e ExportConfig) Enabled() bool {
	return e.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("PORT", 8101),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		SolveTimeout:        getEnvAsDuration("SOLVE_TIMEOUT", 10*time.Second),
		WSMessagesPerSecond: getEnvAsFloat("WS_MESSAGES_PER_SECOND", 5),
		Journal: JournalConfig{
			Enabled:           getEnvAsBool("JOURNAL_ENABLED", true),
			RetentionDays:     getEnvAsInt("JOURNAL_RETENTION_DAYS", 30),
			RetentionSchedule: getEnv("RETENTION_SCHEDULE", "0 0 3 * * *"),
		},
		Export: ExportConfig{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", ""),
			Prefix:          getEnv("S3_PREFIX", "mktcalc/runs"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("EXPORT_SCHEDULE", "0 30 3 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// JournalPath is the SQLite file backing the run journal
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.SolveTimeout <= 0 {
		return fmt.Errorf("SOLVE_TIMEOUT must be positive, got %s", c.SolveTimeout)
	}
	if c.WSMessagesPerSecond <= 0 {
		return fmt.Errorf("WS_MESSAGES_PER_SECOND must be positive, got %v", c.WSMessagesPerSecond)
	}

	if c.Journal.Enabled {
		if c.Journal.RetentionDays <= 0 {
			return fmt.Errorf("JOURNAL_RETENTION_DAYS must be positive, got %d", c.Journal.RetentionDays)
		}
		if err := validateSchedule("RETENTION_SCHEDULE", c.Journal.RetentionSchedule); err != nil {
			return err
		}
	}

	if c.Export.Enabled() {
		if !c.Journal.Enabled {
			return fmt.Errorf("S3_BUCKET is set but the journal is disabled")
		}
		if c.Export.Region == "" {
			return fmt.Errorf("S3_REGION is required when S3_BUCKET is set")
		}
		if (c.Export.AccessKeyID == "") != (c.Export.SecretAccessKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
		}
		if err := validateSchedule("EXPORT_SCHEDULE", c.Export.Schedule); err != nil {
			return err
		}
	}

	return nil
}

func validateSchedule(key, spec string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, spec, err)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
