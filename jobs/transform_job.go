package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/models"
	"ipomonitor/services"
)

// supplementalSources are calendar aggregators that only fill gaps the
// exchanges themselves have not reported.
var supplementalSources = map[string]bool{
	"IPOScoop":     true,
	"AlphaVantage": true,
}

// TransformJob rebuilds the combined IPO set from the per-source tables.
type TransformJob struct {
	aggregator *services.AggregatorService
	logger     *logrus.Logger
}

// NewTransformJob creates a transform job
func NewTransformJob(aggregator *services.AggregatorService, logger *logrus.Logger) *TransformJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TransformJob{aggregator: aggregator, logger: logger}
}

// Run loads every source's live rows, aggregates the exchange sources,
// merges the supplemental ones on top and replaces the combined table.
func (j *TransformJob) Run(ctx context.Context, catalog []models.SourceConfig) error {
	started := time.Now()

	primary := make(map[string][]models.Listing)
	supplemental := make(map[string][]models.Listing)
	for _, src := range catalog {
		if src.RawTable == "" {
			continue
		}
		listings, err := database.LoadSourceListings(ctx, src.RawTable)
		if err != nil {
			// A source table that never got created just means the source
			// has not scraped successfully yet.
			j.logger.WithFields(logrus.Fields{
				"source": src.Name,
				"error":  err.Error(),
			}).Debug("Skipping unreadable source table")
			continue
		}
		if supplementalSources[src.Name] {
			supplemental[src.Name] = listings
		} else {
			primary[src.Name] = listings
		}
	}

	aggregated := j.aggregator.Aggregate(primary)
	for _, listings := range supplemental {
		aggregated = j.aggregator.MergeSupplemental(aggregated, listings)
	}
	aggregated = j.aggregator.Deduplicate(aggregated)

	if err := database.ReplaceAggregatedListings(ctx, aggregated); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"primary_sources":      len(primary),
		"supplemental_sources": len(supplemental),
		"aggregated":           len(aggregated),
		"duration":             time.Since(started).String(),
	}).Info("Transform job finished")

	return nil
}
