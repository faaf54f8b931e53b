package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseURL string
	LogLevel    string

	// Entity concordance API
	ConcordanceURL      string
	ConcordanceUsername string
	ConcordanceAPIKey   string

	// Ticketing API
	RPDAPIURL   string
	RPDLinkBase string
	RPDUsername string
	RPDAPIKey   string

	// REST listing sources
	AlphaVantageAPIKey string
	SpotlightURL       string

	// Workflow engine
	GenesysURL        string
	GenesysUserID     string
	GenesysAPIKey     string
	GenesysWorkflowID string

	// Outbound mail
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	EmailFrom      string
	EmailRecipients string

	// Local artifacts
	ReportDirectory    string
	ErrorPageDirectory string
	LogDirectory       string
	RetentionDays      string
}

// LogFilePath returns the file the run log is mirrored to.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDirectory, "ipo_monitoring.log")
}

// GetSMTPPort returns the SMTP port from environment or default
func (c *Config) GetSMTPPort() int {
	port, err := strconv.Atoi(c.SMTPPort)
	if err != nil {
		logrus.Warnf("Invalid SMTP_PORT value: %s, using default 587", c.SMTPPort)
		return 587
	}
	return port
}

// GetEmailRecipients splits the comma-separated recipient list.
func (c *Config) GetEmailRecipients() []string {
	var out []string
	for _, r := range strings.Split(c.EmailRecipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// GetGenesysUserID returns the workflow engine user id, or 0 when unset.
func (c *Config) GetGenesysUserID() int {
	id, err := strconv.Atoi(c.GenesysUserID)
	if err != nil {
		return 0
	}
	return id
}

// GetGenesysWorkflowID returns the target workflow id, or 0 when unset.
func (c *Config) GetGenesysWorkflowID() int {
	id, err := strconv.Atoi(c.GenesysWorkflowID)
	if err != nil {
		return 0
	}
	return id
}

// GetRetentionDays returns how long local artifacts are kept.
func (c *Config) GetRetentionDays() time.Duration {
	days, err := strconv.Atoi(c.RetentionDays)
	if err != nil || days <= 0 {
		logrus.Warnf("Invalid RETENTION_DAYS value: %s, using default 30 days", c.RetentionDays)
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		logrus.Warn("Error loading .env file, using system environment variables")
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ConcordanceURL:      getEnv("CONCORDANCE_URL", ""),
		ConcordanceUsername: getEnv("CONCORDANCE_USERNAME", ""),
		ConcordanceAPIKey:   getEnv("CONCORDANCE_API_KEY", ""),

		RPDAPIURL:   getEnv("RPD_API_URL", ""),
		RPDLinkBase: getEnv("RPD_LINK_BASE", ""),
		RPDUsername: getEnv("RPD_USERNAME", ""),
		RPDAPIKey:   getEnv("RPD_API_KEY", ""),

		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
		SpotlightURL:       getEnv("SPOTLIGHT_URL", ""),

		GenesysURL:        getEnv("GENESYS_URL", ""),
		GenesysUserID:     getEnv("GENESYS_USER_ID", ""),
		GenesysAPIKey:     getEnv("GENESYS_API_KEY", ""),
		GenesysWorkflowID: getEnv("GENESYS_WORKFLOW_ID", ""),

		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		EmailFrom:       getEnv("EMAIL_FROM", ""),
		EmailRecipients: getEnv("EMAIL_RECIPIENTS", ""),

		ReportDirectory:    getEnv("REPORT_DIR", "reports"),
		ErrorPageDirectory: getEnv("ERROR_PAGE_DIR", "error_pages"),
		LogDirectory:       getEnv("LOG_DIR", "logs"),
		RetentionDays:      getEnv("RETENTION_DAYS", "30"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
