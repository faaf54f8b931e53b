package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
)

// MaintenanceJob prunes aged local artifacts and the scrape log so a
// long-running deployment does not grow without bound.
type MaintenanceJob struct {
	directories []string
	retention   time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

// NewMaintenanceJob creates a maintenance job over the given artifact
// directories (reports, error pages).
func NewMaintenanceJob(directories []string, retention time.Duration, logger *logrus.Logger) *MaintenanceJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MaintenanceJob{
		directories: directories,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// Run deletes files older than the retention window and prunes the scrape
// log to the same horizon.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)

	removedFiles := 0
	for _, dir := range j.directories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				j.logger.WithError(err).WithField("dir", dir).Warn("Cannot read artifact directory")
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				j.logger.WithError(err).WithField("path", path).Warn("Cannot remove aged artifact")
				continue
			}
			removedFiles++
		}
	}

	prunedRows, err := database.PruneScrapeResults(ctx, cutoff)
	if err != nil {
		return err
	}

	stats := database.GetConnectionStats()
	j.logger.WithFields(logrus.Fields{
		"cutoff":           cutoff.Format("2006-01-02"),
		"removed_files":    removedFiles,
		"pruned_rows":      prunedRows,
		"open_connections": stats.OpenConnections,
		"connections_in_use": stats.InUse,
	}).Info("Maintenance job finished")

	return nil
}
