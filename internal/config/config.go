package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8000)
// - UI_ENABLED: serve the static dashboard bundle (default: false)
// - UI_STATIC_DIR: directory holding the dashboard bundle (default: ./ui/dist)
//
// Storage Configuration:
// - UPLOAD_DIR: directory for uploaded spreadsheets (default: uploads)
// - DB_PATH: SQLite database path (default: data/emailscout.db)
//
// Scraper Configuration:
// - SCRAPER_DEFAULT_WORKERS: default per-job crawl concurrency (default: 150)
// - SCRAPER_DEFAULT_BATCH_SIZE: default progress batch size (default: 100)
// - SCRAPER_REQUEST_TIMEOUT: per-page fetch timeout in seconds (default: 15)
// - JOB_WORKERS: jobs processed concurrently (default: 2)
// - MAX_JOBS: retained job records before terminal pruning (default: 1000)
//
// Retention Configuration:
// - CLEANUP_CRON: sweep schedule (default: 0 * * * *)
// - RETENTION_HOURS: terminal-job age before sweep removal (default: 72)
//
// System Configuration:
// - LOG_LEVEL: debug|info|warn|error (default: info)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Scraper   ScraperConfig   `json:"scraper"`
	Retention RetentionConfig `json:"retention"`
	System    SystemConfig    `json:"system"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type StorageConfig struct {
	UploadDir string `json:"upload_dir"`
	DBPath    string `json:"db_path"`
}

type ScraperConfig struct {
	DefaultWorkers   int `json:"default_workers"`
	DefaultBatchSize int `json:"default_batch_size"`
	RequestTimeout   int `json:"request_timeout"`
	JobWorkers       int `json:"job_workers"`
	MaxJobs          int `json:"max_jobs"`
}

type RetentionConfig struct {
	CronExpr string `json:"cron_expr"`
	MaxAge   int    `json:"max_age_hours"`
}

type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8000"),
			UIEnabled:   getEnvBool("UI_ENABLED", false),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "./ui/dist"),
		},
		Storage: StorageConfig{
			UploadDir: getEnvString("UPLOAD_DIR", "uploads"),
			DBPath:    getEnvString("DB_PATH", "data/emailscout.db"),
		},
		Scraper: ScraperConfig{
			DefaultWorkers:   getEnvInt("SCRAPER_DEFAULT_WORKERS", 150),
			DefaultBatchSize: getEnvInt("SCRAPER_DEFAULT_BATCH_SIZE", 100),
			RequestTimeout:   getEnvInt("SCRAPER_REQUEST_TIMEOUT", 15),
			JobWorkers:       getEnvInt("JOB_WORKERS", 2),
			MaxJobs:          getEnvInt("MAX_JOBS", 1000),
		},
		Retention: RetentionConfig{
			CronExpr: getEnvString("CLEANUP_CRON", "0 * * * *"),
			MaxAge:   getEnvInt("RETENTION_HOURS", 72),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.Scraper.JobWorkers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1")
	}
	if c.Scraper.DefaultWorkers < 1 || c.Scraper.DefaultWorkers > 500 {
		return fmt.Errorf("SCRAPER_DEFAULT_WORKERS must be between 1 and 500")
	}
	if c.Scraper.DefaultBatchSize < 10 || c.Scraper.DefaultBatchSize > 2000 {
		return fmt.Errorf("SCRAPER_DEFAULT_BATCH_SIZE must be between 10 and 2000")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
