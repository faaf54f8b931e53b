package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// UnifiedConfiguration holds all configuration parameters for the entire application
type UnifiedConfiguration struct {
	Scraper  ScraperConfig  `json:"scraper"`
	Database DatabaseConfig `json:"database"`
	Batch    BatchConfig    `json:"batch"`
	Logging  LoggingConfig  `json:"logging"`
}

// ScraperConfig holds shared scraping configuration
type ScraperConfig struct {
	HTTPRequestTimeout time.Duration `json:"http_timeout"`
	RenderTimeout      time.Duration `json:"render_timeout"`
	RequestRateLimit   time.Duration `json:"rate_limit"`
	MaxRetryAttempts   int           `json:"max_retries"`
	EnableMetrics      bool          `json:"enable_metrics"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	PingTimeout     time.Duration `json:"ping_timeout"`
}

// BatchConfig holds batch processing configuration
type BatchConfig struct {
	BatchSize      int           `json:"batch_size"`
	MaxConcurrency int           `json:"max_concurrency"`
	Timeout        time.Duration `json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	EnableJSON  bool   `json:"enable_json"`
	ServiceName string `json:"service_name"`
}

// NewDefaultUnifiedConfiguration returns production-ready default configuration
func NewDefaultUnifiedConfiguration() *UnifiedConfiguration {
	return &UnifiedConfiguration{
		Scraper: ScraperConfig{
			HTTPRequestTimeout: 30 * time.Second,
			RenderTimeout:      90 * time.Second,
			RequestRateLimit:   1 * time.Second,
			MaxRetryAttempts:   3,
			EnableMetrics:      true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Batch: BatchConfig{
			BatchSize:      50,
			MaxConcurrency: 5,
			Timeout:        30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			EnableJSON:  true,
			ServiceName: "ipomonitor",
		},
	}
}

// ValidateAndApplyDefaults validates configuration and applies defaults for invalid values
func (c *UnifiedConfiguration) ValidateAndApplyDefaults() {
	logger := logrus.WithField("component", "UnifiedConfiguration")

	if c.Scraper.HTTPRequestTimeout <= 0 {
		c.Scraper.HTTPRequestTimeout = 30 * time.Second
		logger.Debug("Applied default Scraper.HTTPRequestTimeout")
	}

	if c.Scraper.RenderTimeout <= 0 {
		c.Scraper.RenderTimeout = 90 * time.Second
		logger.Debug("Applied default Scraper.RenderTimeout")
	}

	if c.Scraper.RequestRateLimit <= 0 {
		c.Scraper.RequestRateLimit = 1 * time.Second
		logger.Debug("Applied default Scraper.RequestRateLimit")
	}

	if c.Scraper.MaxRetryAttempts <= 0 {
		c.Scraper.MaxRetryAttempts = 3
		logger.Debug("Applied default Scraper.MaxRetryAttempts")
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
		logger.Debug("Applied default Database.MaxOpenConns")
	}

	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
		logger.Debug("Applied default Database.MaxIdleConns")
	}

	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
		logger.Debug("Applied default Database.ConnMaxLifetime")
	}

	if c.Batch.BatchSize <= 0 {
		c.Batch.BatchSize = 50
		logger.Debug("Applied default Batch.BatchSize")
	}

	if c.Batch.MaxConcurrency <= 0 {
		c.Batch.MaxConcurrency = 5
		logger.Debug("Applied default Batch.MaxConcurrency")
	}

	if c.Batch.Timeout <= 0 {
		c.Batch.Timeout = 30 * time.Second
		logger.Debug("Applied default Batch.Timeout")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
		logger.Debug("Applied default Logging.Level")
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
		logger.Debug("Applied default Logging.Format")
	}

	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = "ipomonitor"
		logger.Debug("Applied default Logging.ServiceName")
	}
}

// ToJSON serializes the configuration to JSON
func (c *UnifiedConfiguration) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFromJSON deserializes configuration from JSON
func (c *UnifiedConfiguration) LoadFromJSON(jsonData []byte) error {
	if err := json.Unmarshal(jsonData, c); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	c.ValidateAndApplyDefaults()
	return nil
}
