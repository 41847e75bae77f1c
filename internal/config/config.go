package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	MaxSimultaneousDownloads int           `envconfig:"MAX_SIMULTANEOUS_DOWNLOADS" default:"3"`
	MaxRequestsPerBatch      int           `envconfig:"MAX_REQUESTS_PER_BATCH" default:"50"`
	TransferTimeout          time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"30s"`
	StartupRetries           int           `envconfig:"STARTUP_RETRIES" default:"3"`
	AllowPrivateHosts        bool          `envconfig:"ALLOW_PRIVATE_HOSTS" default:"false"`

	DownloadDir       string `envconfig:"DOWNLOAD_DIR" default:"./storage"`
	DatabaseFile      string `envconfig:"DATABASE_FILE" default:"./data/downloads.db"`
	TempDir           string `envconfig:"TEMP_DIR" default:"./tmp"`
	SessionIdentifier string `envconfig:"SESSION_IDENTIFIER" default:"batchdl"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.MaxSimultaneousDownloads < 1 {
		return fmt.Errorf("max simultaneous downloads must be at least 1: %d", c.MaxSimultaneousDownloads)
	}

	if c.MaxRequestsPerBatch <= 0 {
		return fmt.Errorf("max requests per batch must be positive: %d", c.MaxRequestsPerBatch)
	}

	if c.StartupRetries <= 0 {
		return fmt.Errorf("startup retries must be positive: %d", c.StartupRetries)
	}

	if c.TransferTimeout < 0 {
		return fmt.Errorf("transfer timeout cannot be negative: %s", c.TransferTimeout)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if c.DatabaseFile == "" {
		return fmt.Errorf("database file cannot be empty")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp directory cannot be empty")
	}
	if c.SessionIdentifier == "" {
		return fmt.Errorf("session identifier cannot be empty")
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %q", c.LogFormat)
	}

	return nil
}
