package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ipomonitor/config"
	"ipomonitor/database"
	"ipomonitor/jobs"
	"ipomonitor/services"
	"ipomonitor/shared"
	"ipomonitor/sources"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// pipeline holds the wired services and jobs for one invocation.
type pipeline struct {
	cfg        *config.Config
	scrapeJob  *jobs.ScrapeJob
	transform  *jobs.TransformJob
	mapping    *jobs.EntityMappingJob
	comparison *jobs.ComparisonJob
	workflow   *jobs.WorkflowJob
	rpdSync    *jobs.RPDSyncJob
	report     *jobs.ReportJob
	maintain   *jobs.MaintenanceJob
	mailer     *services.EmailService
	factory    *shared.HTTPClientFactory
}

func newRootCommand() *cobra.Command {
	var onlySources []string
	var remapAll bool
	var skipEmail bool

	root := &cobra.Command{
		Use:           "ipomonitor",
		Short:         "Monitors upcoming IPO listings across exchanges and reconciles them with internal deal records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		configureLogging(cfg.LogLevel, cfg.LogFilePath())
		if err := sources.Validate(); err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}
		if err := database.Connect(cfg.DatabaseURL); err != nil {
			return err
		}
		return database.Migrate("database/schema.sql")
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		database.Close()
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "scrape",
			Short: "Fetch all sources and refresh the per-source tables",
			RunE: func(cmd *cobra.Command, args []string) error {
				p := buildPipeline()
				p.scrapeJob.Only = onlySources
				return p.scrapeJob.Run(signalContext(), sources.All())
			},
		},
		&cobra.Command{
			Use:   "transform",
			Short: "Aggregate the per-source tables into the combined IPO set",
			RunE: func(cmd *cobra.Command, args []string) error {
				return buildPipeline().transform.Run(signalContext(), sources.All())
			},
		},
		&cobra.Command{
			Use:   "map-entities",
			Short: "Resolve company names to entity identifiers",
			RunE: func(cmd *cobra.Command, args []string) error {
				p := buildPipeline()
				p.mapping.RemapAll = remapAll
				return p.mapping.Run(signalContext())
			},
		},
		&cobra.Command{
			Use:   "compare",
			Short: "Compare the combined IPO set against internal deal records",
			RunE: func(cmd *cobra.Command, args []string) error {
				return buildPipeline().comparison.Run(signalContext())
			},
		},
		&cobra.Command{
			Use:   "upload-workflow",
			Short: "Feed upcoming IPOs with stale deal data into the research workflow",
			RunE: func(cmd *cobra.Command, args []string) error {
				return buildPipeline().workflow.Run(signalContext())
			},
		},
		&cobra.Command{
			Use:   "sync-rpds",
			Short: "Reconcile tickets with the comparison output",
			RunE: func(cmd *cobra.Command, args []string) error {
				return buildPipeline().rpdSync.Run(signalContext())
			},
		},
		&cobra.Command{
			Use:   "report",
			Short: "Write the comparison workbook and mail it",
			RunE: func(cmd *cobra.Command, args []string) error {
				p := buildPipeline()
				p.report.SkipEmail = skipEmail
				return p.report.Run(signalContext(), services.RPDSyncSummary{})
			},
		},
		&cobra.Command{
			Use:   "maintain",
			Short: "Prune aged artifacts and scrape history",
			RunE: func(cmd *cobra.Command, args []string) error {
				return buildPipeline().maintain.Run(signalContext())
			},
		},
		&cobra.Command{
			Use:   "performance",
			Short: "Print recent per-source scrape success rates",
			RunE: func(cmd *cobra.Command, args []string) error {
				perf, err := database.LoadSourcePerformance(signalContext(), time.Now().AddDate(0, 0, -7))
				if err != nil {
					return err
				}
				for _, p := range perf {
					fmt.Printf("%-20s %6.1f%% (%d successes)\n", p.Source, p.RecentSuccessRate*100, p.RecentSuccesses)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run the full pipeline end to end",
			RunE: func(cmd *cobra.Command, args []string) error {
				p := buildPipeline()
				p.scrapeJob.Only = onlySources
				p.mapping.RemapAll = remapAll
				p.report.SkipEmail = skipEmail
				return p.runAll(signalContext())
			},
		},
	)

	root.PersistentFlags().StringSliceVar(&onlySources, "source", nil, "limit scraping to the named sources")
	root.PersistentFlags().BoolVar(&remapAll, "remap-all", false, "resubmit every company to the entity matcher")
	root.PersistentFlags().BoolVar(&skipEmail, "no-email", false, "write the report without mailing it")

	return root
}

// pipelineStage is one named step of the full run.
type pipelineStage struct {
	name string
	run  func(context.Context) error
}

// runStages executes every stage in order. A failing stage is logged,
// reported through onFailure and the remaining stages still run; later
// stages fall back to the tables the previous successful run left in
// the database. The error joins every stage failure.
func runStages(ctx context.Context, stages []pipelineStage, onFailure func(name string, err error)) error {
	var errs []error
	for _, stage := range stages {
		if err := stage.run(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"stage": stage.name,
				"error": err.Error(),
			}).Error("Pipeline stage failed")
			if onFailure != nil {
				onFailure(stage.name, err)
			}
			errs = append(errs, fmt.Errorf("stage %s: %w", stage.name, err))
		}
	}
	return errors.Join(errs...)
}

// runAll executes every stage in order, reporting each failure by email
// without stopping the stages after it.
func (p *pipeline) runAll(ctx context.Context) error {
	stages := []pipelineStage{
		{"scrape", func(ctx context.Context) error { return p.scrapeJob.Run(ctx, sources.All()) }},
		{"transform", func(ctx context.Context) error { return p.transform.Run(ctx, sources.All()) }},
		{"map-entities", p.mapping.Run},
		{"compare", p.comparison.Run},
		{"upload-workflow", p.workflow.Run},
		{"sync-rpds", p.rpdSync.Run},
		{"report", func(ctx context.Context) error { return p.report.Run(ctx, p.rpdSync.LastSummary) }},
	}

	if err := database.HealthCheck(); err != nil {
		return err
	}

	runErr := runStages(ctx, stages, func(name string, err error) {
		if p.mailer == nil {
			return
		}
		if mailErr := p.mailer.SendFailureNotice(name, err, tailLogFile(p.cfg.LogFilePath(), logTailBytes)); mailErr != nil {
			logrus.WithError(mailErr).Warn("Failure notice email failed")
		}
	})

	if err := p.maintain.Run(ctx); err != nil {
		logrus.WithError(err).Warn("Maintenance failed")
		if runErr == nil {
			runErr = err
		}
	}

	p.factory.CleanupAllClients()
	shared.SharedHTTPMetrics.LogHTTPSummary()
	return runErr
}

func buildPipeline() *pipeline {
	cfg := config.LoadConfig()
	logger := logrus.StandardLogger()
	factory := shared.NewHTTPClientFactory(30 * time.Second)

	scraperConfig := services.NewDefaultTableScraperConfiguration()
	scraperConfig.ErrorPageDirectory = cfg.ErrorPageDirectory

	scraper := services.NewTableScraperService(scraperConfig, logger)
	apiSources := services.NewAPISourceService(cfg.AlphaVantageAPIKey, cfg.SpotlightURL, factory, logger)
	normalizer := services.NewNormalizerService(logger)
	aggregator := services.NewAggregatorService(logger)
	matcher := services.NewEntityMatchService(cfg.ConcordanceURL, cfg.ConcordanceUsername, cfg.ConcordanceAPIKey, factory, logger)
	comparator := services.NewComparisonService(logger)
	rpdClient := services.NewRPDClient(cfg.RPDAPIURL, cfg.RPDUsername, cfg.RPDAPIKey, factory, logger)
	syncer := services.NewRPDSyncService(rpdClient, cfg.RPDLinkBase, logger)
	reporter := services.NewReportService(cfg.ReportDirectory, logger)

	var mailer *services.EmailService
	if cfg.SMTPHost != "" {
		mailer = services.NewEmailService(services.EmailConfiguration{
			Host:       cfg.SMTPHost,
			Port:       cfg.GetSMTPPort(),
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			From:       cfg.EmailFrom,
			Recipients: cfg.GetEmailRecipients(),
		}, logger)
	}

	var uploader *services.WorkflowUploadService
	if cfg.GenesysURL != "" {
		genesys := services.NewGenesysClient(cfg.GenesysURL, cfg.GetGenesysUserID(), cfg.GenesysAPIKey, factory, logger)
		uploader = services.NewWorkflowUploadService(genesys, cfg.GetGenesysWorkflowID(), logger)
	}

	reportJob := jobs.NewReportJob(reporter, mailer, logger)
	if mailer == nil {
		reportJob.SkipEmail = true
	}

	return &pipeline{
		cfg:        cfg,
		scrapeJob:  jobs.NewScrapeJob(scraper, apiSources, normalizer, logger),
		transform:  jobs.NewTransformJob(aggregator, logger),
		mapping:    jobs.NewEntityMappingJob(matcher, logger),
		comparison: jobs.NewComparisonJob(comparator, logger),
		workflow:   jobs.NewWorkflowJob(uploader, logger),
		rpdSync:    jobs.NewRPDSyncJob(syncer, logger),
		report:     reportJob,
		maintain: jobs.NewMaintenanceJob(
			[]string{cfg.ReportDirectory, cfg.ErrorPageDirectory},
			cfg.GetRetentionDays(), logger),
		mailer:  mailer,
		factory: factory,
	}
}

// logTailBytes is how much of the run log a failure notice carries.
const logTailBytes = 4096

func configureLogging(level, logFile string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		logrus.WithError(err).Warn("Log directory creation failed, logging to stderr only")
		return
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logrus.WithError(err).Warn("Log file open failed, logging to stderr only")
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
}

// tailLogFile returns up to maxBytes from the end of the run log, for
// inclusion in failure notices.
func tailLogFile(path string, maxBytes int64) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - maxBytes
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return ""
	}
	return string(buf)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a long
// scrape can be interrupted cleanly.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
