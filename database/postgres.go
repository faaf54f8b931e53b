package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"ipomonitor/shared"
)

var DB *sql.DB

// Connect establishes database connection with default pool configuration
func Connect(dbURL string) error {
	config := shared.NewDefaultUnifiedConfiguration().Database
	return ConnectWithConfig(dbURL, &config)
}

// ConnectWithConfig establishes database connection with custom configuration
func ConnectWithConfig(dbURL string, config *shared.DatabaseConfig) error {
	var err error
	DB, err = sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(config.MaxOpenConns)
	DB.SetMaxIdleConns(config.MaxIdleConns)
	DB.SetConnMaxLifetime(config.ConnMaxLifetime)
	DB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()

	if err = DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"max_open_conns":    config.MaxOpenConns,
		"max_idle_conns":    config.MaxIdleConns,
		"conn_max_lifetime": config.ConnMaxLifetime,
	}).Info("Connected to database successfully")

	return nil
}

func Close() {
	if DB != nil {
		if err := DB.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing database connection")
		}
	}
}

// GetConnectionStats returns current connection pool statistics
func GetConnectionStats() sql.DBStats {
	if DB == nil {
		return sql.DBStats{}
	}
	return DB.Stats()
}

// HealthCheck verifies the database is reachable and reports pool pressure.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database connection not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stats := DB.Stats()
	if stats.OpenConnections > 0 && stats.InUse == stats.OpenConnections {
		logrus.WithFields(logrus.Fields{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"wait_count":       stats.WaitCount,
		}).Warn("Database connection pool is saturated")
	}

	return nil
}

// Migrate applies the schema file statement by statement. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS), so re-running is safe.
func Migrate(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", schemaPath, err)
	}

	statements := parseSQLStatements(string(content))
	for i, statement := range statements {
		if _, err := DB.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement %d: %w", i+1, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"schema":     schemaPath,
		"statements": len(statements),
	}).Info("Database schema applied")

	return nil
}

// parseSQLStatements splits schema content on semicolons, skipping comment
// lines and empty fragments.
func parseSQLStatements(content string) []string {
	var cleaned []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		cleaned = append(cleaned, line)
	}

	var statements []string
	for _, statement := range strings.Split(strings.Join(cleaned, "\n"), ";") {
		if trimmed := strings.TrimSpace(statement); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}
