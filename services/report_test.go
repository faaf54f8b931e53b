package services

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	gomail "gopkg.in/gomail.v2"

	"ipomonitor/models"
)

func TestWriteComparisonWorkbook(t *testing.T) {
	dir := t.TempDir()
	r := NewReportService(dir, logrus.New())
	r.now = func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) }

	date := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	records := []models.ComparisonRecord{
		{
			DatesMatch: true, PricesMatch: true,
			CompanyNameExternal: "Acme Corp", ExchangeExternal: "NYSE",
			IPODate: &date, PriceExternal: floatP(12.0),
		},
		{
			DatesMatch: false, PricesMatch: true,
			CompanyNameExternal: "Beta Ltd", ExchangeExternal: "LSE",
		},
	}
	unmapped := []models.EntityMapping{{
		CompanyName: "Gamma AG", BestCandidate: "Gamma Aktiengesellschaft",
		SimilarityScore: floatP(0.61), CountryName: "Germany",
	}}

	path, err := r.WriteComparisonWorkbook(records, unmapped)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ipo_comparison_2026-03-10.xlsx"), path)

	workbook, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer workbook.Close()

	assert.ElementsMatch(t, []string{"Comparison", "Mismatches", "Unmapped"}, workbook.GetSheetList())

	rows, err := workbook.GetRows("Comparison")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Company Name", rows[0][3])
	assert.Equal(t, "Acme Corp", rows[1][3])
	assert.Equal(t, "2026-03-20", rows[1][5])

	// Only the disagreeing row lands on the mismatch sheet.
	rows, err = workbook.GetRows("Mismatches")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Beta Ltd", rows[1][3])

	rows, err = workbook.GetRows("Unmapped")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Gamma AG", rows[1][0])
}

func TestWriteComparisonWorkbookEmptyInput(t *testing.T) {
	r := NewReportService(t.TempDir(), logrus.New())

	path, err := r.WriteComparisonWorkbook(nil, nil)
	require.NoError(t, err)

	workbook, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer workbook.Close()

	rows, err := workbook.GetRows("Comparison")
	require.NoError(t, err)
	assert.Len(t, rows, 1) // header only
}

func testEmailService(send func(m *gomail.Message) error) *EmailService {
	e := NewEmailService(EmailConfiguration{
		Host: "localhost", Port: 25,
		From:       "monitor@example.com",
		Recipients: []string{"team@example.com"},
	}, logrus.New())
	e.send = send
	return e
}

func TestSendDailyReport(t *testing.T) {
	var sent *gomail.Message
	e := testEmailService(func(m *gomail.Message) error {
		sent = m
		return nil
	})

	records := []models.ComparisonRecord{
		{DatesMatch: true, PricesMatch: true},
		{DatesMatch: false, PricesMatch: true},
	}
	err := e.SendDailyReport("", records, RPDSyncSummary{Created: 2, Errors: 1})
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, []string{"team@example.com"}, sent.GetHeader("To"))
	assert.Contains(t, sent.GetHeader("Subject")[0], "IPO Monitoring Report")
}

func TestSendFailureNoticePropagatesSendError(t *testing.T) {
	e := testEmailService(func(m *gomail.Message) error {
		return errors.New("smtp down")
	})

	err := e.SendFailureNotice("scrape", errors.New("source exploded"), "last log lines")
	assert.EqualError(t, err, "smtp down")
}
