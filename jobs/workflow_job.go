package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/database"
	"ipomonitor/services"
)

// WorkflowJob feeds upcoming IPOs with stale or missing deal data into
// the research workflow as tasks. The job is a no-op when no workflow
// engine is configured.
type WorkflowJob struct {
	uploader *services.WorkflowUploadService
	logger   *logrus.Logger
}

// NewWorkflowJob creates a workflow job
func NewWorkflowJob(uploader *services.WorkflowUploadService, logger *logrus.Logger) *WorkflowJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WorkflowJob{uploader: uploader, logger: logger}
}

// Run loads the comparison table and bulk-feeds the rows that need a
// workflow task.
func (j *WorkflowJob) Run(ctx context.Context) error {
	if j.uploader == nil {
		j.logger.Info("Workflow engine not configured, skipping task upload")
		return nil
	}

	started := time.Now()

	records, err := database.LoadComparisonResults(ctx)
	if err != nil {
		return err
	}

	result, err := j.uploader.UploadUpcoming(ctx, records)
	if err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"new_tasks":  result.NewTasks,
		"duplicates": result.DuplicateTasks,
		"duration":   time.Since(started).String(),
	}).Info("Workflow job finished")

	return nil
}
