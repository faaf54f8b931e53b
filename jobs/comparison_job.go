package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/services"
)

// ComparisonJob joins the combined IPO set against the internal deal
// extract and rebuilds the comparison table.
type ComparisonJob struct {
	comparator *services.ComparisonService
	logger     *logrus.Logger
}

// NewComparisonJob creates a comparison job
func NewComparisonJob(comparator *services.ComparisonService, logger *logrus.Logger) *ComparisonJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ComparisonJob{comparator: comparator, logger: logger}
}

// Run loads listings, mappings and deals, compares them and stores the
// result.
func (j *ComparisonJob) Run(ctx context.Context) error {
	started := time.Now()

	listings, err := database.LoadAggregatedListings(ctx)
	if err != nil {
		return err
	}
	mappings, err := database.LoadEntityMappings(ctx)
	if err != nil {
		return err
	}
	deals, err := database.LoadDealRecords(ctx)
	if err != nil {
		return err
	}

	records := j.comparator.Compare(listings, mappings, deals)
	if err := database.ReplaceComparisonResults(ctx, records); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"records":    len(records),
		"mismatches": len(j.comparator.Mismatches(records)),
		"duration":   time.Since(started).String(),
	}).Info("Comparison job finished")

	return nil
}
