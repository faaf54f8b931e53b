package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/services"
)

// DefaultTicketHorizonDays bounds how far out a listing may be before a
// ticket is worth opening.
const DefaultTicketHorizonDays = 14

// RPDSyncJob reconciles tickets with the latest comparison output.
type RPDSyncJob struct {
	syncer  *services.RPDSyncService
	logger  *logrus.Logger
	horizon int

	// Summary of the last run, read by the report job.
	LastSummary services.RPDSyncSummary
}

// NewRPDSyncJob creates an RPD sync job
func NewRPDSyncJob(syncer *services.RPDSyncService, logger *logrus.Logger) *RPDSyncJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RPDSyncJob{syncer: syncer, logger: logger, horizon: DefaultTicketHorizonDays}
}

// Run syncs near-term comparison records against the ticketing system and
// stores the updated snapshots.
func (j *RPDSyncJob) Run(ctx context.Context) error {
	started := time.Now()

	records, err := database.LoadComparisonResults(ctx)
	if err != nil {
		return err
	}
	snapshots, err := database.LoadRPDRecords(ctx)
	if err != nil {
		return err
	}

	nearTerm := services.NewComparisonService(j.logger).NearTerm(records, j.horizon)
	updated, summary := j.syncer.Sync(ctx, nearTerm, snapshots)
	j.LastSummary = summary

	if err := database.UpsertRPDRecords(ctx, updated); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"near_term": len(nearTerm),
		"snapshots": len(updated),
		"duration":  time.Since(started).String(),
	}).Info("RPD sync job finished")

	return nil
}
