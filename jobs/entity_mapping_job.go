package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/models"
	"ipomonitor/services"
)

// EntityMappingJob resolves company names in the combined IPO set that
// have no confident mapping yet. Already-mapped names are not
// resubmitted; names that came back unmapped are retried every run.
type EntityMappingJob struct {
	matcher *services.EntityMatchService
	logger  *logrus.Logger

	// RemapAll resubmits every company, refreshing stale mappings.
	RemapAll bool
}

// NewEntityMappingJob creates an entity mapping job
func NewEntityMappingJob(matcher *services.EntityMatchService, logger *logrus.Logger) *EntityMappingJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EntityMappingJob{matcher: matcher, logger: logger}
}

// Run maps the unknown companies and upserts the results.
func (j *EntityMappingJob) Run(ctx context.Context) error {
	started := time.Now()

	listings, err := database.LoadAggregatedListings(ctx)
	if err != nil {
		return err
	}

	var candidates []models.Listing
	if j.RemapAll {
		candidates = listings
	} else {
		existing, err := database.LoadEntityMappings(ctx)
		if err != nil {
			return err
		}
		candidates = selectUnmapped(listings, existing)
	}

	if len(candidates) == 0 {
		j.logger.Info("No new companies to map")
		return nil
	}

	mappings, err := j.matcher.MapEntities(ctx, candidates)
	if err != nil {
		return err
	}
	if err := database.UpsertEntityMappings(ctx, mappings); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"listings":   len(listings),
		"submitted":  len(candidates),
		"mappings":   len(mappings),
		"duration":   time.Since(started).String(),
	}).Info("Entity mapping job finished")

	return nil
}

// selectUnmapped returns the listings with no confident stored mapping.
// A stored unmapped row does not count as known; the concordance service
// may well resolve the name on a later pass, so it goes back in the task.
func selectUnmapped(listings []models.Listing, existing []models.EntityMapping) []models.Listing {
	mapped := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.MapStatus == models.MapStatusMapped && m.Iconum != nil {
			mapped[strings.ToLower(strings.TrimSpace(m.CompanyName))] = true
		}
	}
	var out []models.Listing
	for _, l := range listings {
		if !mapped[strings.ToLower(strings.TrimSpace(l.CompanyName))] {
			out = append(out, l)
		}
	}
	return out
}
