package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	gomail "gopkg.in/gomail.v2"

	"ipomonitor/models"
)

// ReportService writes the daily comparison workbook and mails it out.
type ReportService struct {
	outputDir string
	logger    *logrus.Logger
	now       func() time.Time
}

// NewReportService creates a report service
func NewReportService(outputDir string, logger *logrus.Logger) *ReportService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReportService{outputDir: outputDir, logger: logger, now: time.Now}
}

var comparisonHeader = []string{
	"Dates Match", "Prices Match", "Iconum", "Company Name", "Exchange",
	"IPO Date", "Price", "Price Range", "Ticker", "Status", "Notes",
	"Internal Company Name", "Master Deal", "CUSIP", "Internal Exchange",
	"Internal Price", "Trading Date", "Deal Status",
}

var unmappedHeader = []string{
	"Company Name", "Best Candidate", "Similarity", "Country", "Entity Type",
}

// WriteComparisonWorkbook writes the comparison results to a dated
// spreadsheet with one sheet for the full set, one for mismatches and one
// for unmapped companies. Returns the written path.
func (r *ReportService) WriteComparisonWorkbook(records []models.ComparisonRecord, unmapped []models.EntityMapping) (string, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	warnStyle, err := workbook.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFC7CE"}},
		Font: &excelize.Font{Color: "9C0006"},
	})
	if err != nil {
		return "", err
	}

	const mainSheet = "Comparison"
	if err := workbook.SetSheetName("Sheet1", mainSheet); err != nil {
		return "", err
	}
	if err := r.writeComparisonSheet(workbook, mainSheet, records, warnStyle); err != nil {
		return "", err
	}

	mismatches := make([]models.ComparisonRecord, 0)
	for _, rec := range records {
		if !rec.DatesMatch || !rec.PricesMatch {
			mismatches = append(mismatches, rec)
		}
	}
	if _, err := workbook.NewSheet("Mismatches"); err != nil {
		return "", err
	}
	if err := r.writeComparisonSheet(workbook, "Mismatches", mismatches, warnStyle); err != nil {
		return "", err
	}

	if _, err := workbook.NewSheet("Unmapped"); err != nil {
		return "", err
	}
	if err := r.writeUnmappedSheet(workbook, "Unmapped", unmapped); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.outputDir, fmt.Sprintf("ipo_comparison_%s.xlsx", r.now().Format("2006-01-02")))
	if err := workbook.SaveAs(path); err != nil {
		return "", err
	}

	r.logger.WithFields(logrus.Fields{
		"path":       path,
		"records":    len(records),
		"mismatches": len(mismatches),
		"unmapped":   len(unmapped),
	}).Info("Wrote comparison workbook")

	return path, nil
}

func (r *ReportService) writeComparisonSheet(workbook *excelize.File, sheet string, records []models.ComparisonRecord, warnStyle int) error {
	if err := workbook.SetSheetRow(sheet, "A1", &comparisonHeader); err != nil {
		return err
	}
	for i, rec := range records {
		row := []interface{}{
			rec.DatesMatch, rec.PricesMatch,
			int64PtrCell(rec.Iconum), rec.CompanyNameExternal, rec.ExchangeExternal,
			dateCell(rec.IPODate), floatPtrCell(rec.PriceExternal), rec.PriceRange,
			rec.Ticker, rec.Status, rec.Notes,
			rec.CompanyNameInternal, int64PtrCell(rec.MasterDeal), rec.CUSIP,
			rec.ExchangeInternal, floatPtrCell(rec.PriceInternal),
			dateCell(rec.TradingDate), rec.DealStatus,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := workbook.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		if !rec.DatesMatch || !rec.PricesMatch {
			end := fmt.Sprintf("R%d", i+2)
			if err := workbook.SetCellStyle(sheet, cell, end, warnStyle); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *ReportService) writeUnmappedSheet(workbook *excelize.File, sheet string, unmapped []models.EntityMapping) error {
	if err := workbook.SetSheetRow(sheet, "A1", &unmappedHeader); err != nil {
		return err
	}
	for i, m := range unmapped {
		row := []interface{}{
			m.CompanyName, m.BestCandidate, floatPtrCell(m.SimilarityScore),
			m.CountryName, m.EntityType,
		}
		if err := workbook.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

func dateCell(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func floatPtrCell(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func int64PtrCell(v *int64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

// EmailConfiguration holds SMTP settings for outbound mail.
type EmailConfiguration struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// EmailService sends the daily report and failure notifications.
type EmailService struct {
	config EmailConfiguration
	logger *logrus.Logger
	send   func(m *gomail.Message) error
}

// NewEmailService creates an email service
func NewEmailService(config EmailConfiguration, logger *logrus.Logger) *EmailService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	return &EmailService{
		config: config,
		logger: logger,
		send:   func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}
}

// SendDailyReport mails the comparison workbook with a short HTML summary.
func (e *EmailService) SendDailyReport(workbookPath string, records []models.ComparisonRecord, summary RPDSyncSummary) error {
	mismatches := 0
	for _, rec := range records {
		if !rec.DatesMatch || !rec.PricesMatch {
			mismatches++
		}
	}

	var body strings.Builder
	body.WriteString("<h3>IPO Monitoring Daily Report</h3>")
	fmt.Fprintf(&body, "<p>%d listings compared, %d with date or price disagreements.</p>", len(records), mismatches)
	fmt.Fprintf(&body, "<p>Tickets: %d created, %d updated, %d resolved, %d redirected.</p>",
		summary.Created, summary.Updated, summary.Resolved, summary.Redirected)
	if summary.Errors > 0 {
		fmt.Fprintf(&body, "<p><b>%d ticket operations failed; see the log.</b></p>", summary.Errors)
	}

	message := gomail.NewMessage()
	message.SetHeader("From", e.config.From)
	message.SetHeader("To", e.config.Recipients...)
	message.SetHeader("Subject", fmt.Sprintf("IPO Monitoring Report %s", time.Now().Format("2006-01-02")))
	message.SetBody("text/html", body.String())
	if workbookPath != "" {
		message.Attach(workbookPath)
	}

	if err := e.send(message); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"recipients": len(e.config.Recipients),
		"attachment": workbookPath,
	}).Info("Sent daily report email")
	return nil
}

// SendFailureNotice mails the tail of the run log when a stage fails hard.
func (e *EmailService) SendFailureNotice(stage string, runErr error, logTail string) error {
	var body strings.Builder
	body.WriteString("<h3>IPO Monitoring Failure</h3>")
	fmt.Fprintf(&body, "<p>Stage <b>%s</b> failed: %s</p>", stage, runErr)
	if logTail != "" {
		fmt.Fprintf(&body, "<pre>%s</pre>", logTail)
	}

	message := gomail.NewMessage()
	message.SetHeader("From", e.config.From)
	message.SetHeader("To", e.config.Recipients...)
	message.SetHeader("Subject", fmt.Sprintf("IPO Monitoring FAILED: %s", stage))
	message.SetBody("text/html", body.String())

	if err := e.send(message); err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"stage": stage}).Info("Sent failure notice email")
	return nil
}
