package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/models"
	"ipomonitor/services"
	"ipomonitor/shared"
)

// ScrapeJob fetches every configured source, normalizes the rows and
// reconciles each source's table. One failing source never stops the
// others; its failure is logged and recorded in the scrape log.
type ScrapeJob struct {
	scraper     *services.TableScraperService
	apiSources  *services.APISourceService
	normalizer  *services.NormalizerService
	logger      *logrus.Logger
	concurrency int

	// Only scrape these sources when non-empty; used by the CLI to
	// re-run a single source.
	Only []string
}

// NewScrapeJob creates a scrape job
func NewScrapeJob(scraper *services.TableScraperService, apiSources *services.APISourceService, normalizer *services.NormalizerService, logger *logrus.Logger) *ScrapeJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ScrapeJob{
		scraper:     scraper,
		apiSources:  apiSources,
		normalizer:  normalizer,
		logger:      logger,
		concurrency: shared.NewDefaultUnifiedConfiguration().Batch.MaxConcurrency,
	}
}

// Run executes the scrape stage over all selected sources.
func (j *ScrapeJob) Run(ctx context.Context, catalog []models.SourceConfig) error {
	selected := j.selectSources(catalog)
	if len(selected) == 0 {
		j.logger.Warn("No sources selected for scraping")
		return nil
	}

	// Batch ID ties a run's per-source log lines together when several
	// scheduled runs overlap.
	batchID := uuid.NewString()
	logger := j.logger.WithField("batch_id", batchID)

	started := time.Now()
	metrics := shared.NewPipelineStageMetrics()
	results := make([]models.ScrapeResult, len(selected))

	sem := make(chan struct{}, j.concurrency)
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src models.SourceConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = j.scrapeSource(ctx, src, metrics)
		}(i, src)
	}
	wg.Wait()

	if err := database.InsertScrapeResults(ctx, results); err != nil {
		logger.WithError(err).Warn("Failed to record scrape results")
	}

	metrics.LogSummary("scrape")
	logger.WithFields(logrus.Fields{
		"sources":  len(selected),
		"duration": time.Since(started).String(),
	}).Info("Scrape job finished")

	return nil
}

// scrapeSource runs the fetch-normalize-persist pipeline for one source.
func (j *ScrapeJob) scrapeSource(ctx context.Context, src models.SourceConfig, metrics *shared.PipelineStageMetrics) models.ScrapeResult {
	result := models.ScrapeResult{TimeChecked: time.Now(), Source: src.Name}

	raw, err := j.fetchSource(ctx, src)
	if err != nil && shared.IsRetryableError(err) {
		j.logger.WithFields(logrus.Fields{
			"source": src.Name,
			"error":  err.Error(),
		}).Info("Retrying source fetch after transient failure")
		raw, err = j.fetchSource(ctx, src)
	}
	if err != nil {
		j.logger.WithFields(logrus.Fields{
			"source": src.Name,
			"error":  err.Error(),
		}).Warn("Source fetch failed")
		metrics.RecordSource(src.Name, false, 0, 0)
		return result
	}

	listings, err := j.normalizer.Normalize(src, raw)
	if err != nil {
		j.logger.WithFields(logrus.Fields{
			"source": src.Name,
			"error":  err.Error(),
		}).Warn("Source normalization failed")
		metrics.RecordSource(src.Name, false, len(raw.Rows), 0)
		return result
	}

	if src.RawTable != "" {
		if err := database.EnsureSourceTable(ctx, src.RawTable); err != nil {
			j.logger.WithError(err).WithField("source", src.Name).Warn("Source table creation failed")
			metrics.RecordSource(src.Name, false, len(raw.Rows), len(listings))
			return result
		}
		if err := database.SyncSourceListings(ctx, src.RawTable, listings, raw.TimeChecked); err != nil {
			j.logger.WithError(err).WithField("source", src.Name).Warn("Source table sync failed")
			metrics.RecordSource(src.Name, false, len(raw.Rows), len(listings))
			return result
		}
	}

	metrics.RecordSource(src.Name, true, len(raw.Rows), len(listings))
	result.Success = true
	return result
}

func (j *ScrapeJob) fetchSource(ctx context.Context, src models.SourceConfig) (*models.RawTable, error) {
	if src.Kind == models.SourceKindAPI {
		return j.apiSources.FetchTable(ctx, src)
	}
	return j.scraper.FetchTable(ctx, src)
}

func (j *ScrapeJob) selectSources(catalog []models.SourceConfig) []models.SourceConfig {
	if len(j.Only) == 0 {
		return catalog
	}
	wanted := make(map[string]bool, len(j.Only))
	for _, name := range j.Only {
		wanted[name] = true
	}
	var out []models.SourceConfig
	for _, src := range catalog {
		if wanted[src.Name] {
			out = append(out, src)
		}
	}
	return out
}
