package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/models"
	"ipomonitor/services"
)

// ReportJob writes the daily workbook and mails it to the recipients.
type ReportJob struct {
	reporter *services.ReportService
	mailer   *services.EmailService
	logger   *logrus.Logger

	// SkipEmail writes the workbook without sending it; used by the CLI
	// when mail is not configured.
	SkipEmail bool
}

// NewReportJob creates a report job
func NewReportJob(reporter *services.ReportService, mailer *services.EmailService, logger *logrus.Logger) *ReportJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReportJob{reporter: reporter, mailer: mailer, logger: logger}
}

// Run builds the workbook from the stored comparison output and unmapped
// companies, then mails it with the ticket summary from syncSummary.
func (j *ReportJob) Run(ctx context.Context, syncSummary services.RPDSyncSummary) error {
	started := time.Now()

	records, err := database.LoadComparisonResults(ctx)
	if err != nil {
		return err
	}
	mappings, err := database.LoadEntityMappings(ctx)
	if err != nil {
		return err
	}
	var unmapped []models.EntityMapping
	for _, m := range mappings {
		if m.MapStatus != models.MapStatusMapped {
			unmapped = append(unmapped, m)
		}
	}

	path, err := j.reporter.WriteComparisonWorkbook(records, unmapped)
	if err != nil {
		return err
	}

	if !j.SkipEmail && j.mailer != nil {
		if err := j.mailer.SendDailyReport(path, records, syncSummary); err != nil {
			return err
		}
	}

	j.logger.WithFields(logrus.Fields{
		"workbook": path,
		"records":  len(records),
		"unmapped": len(unmapped),
		"duration": time.Since(started).String(),
	}).Info("Report job finished")

	return nil
}
