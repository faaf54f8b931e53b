package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// TableScraperConfiguration holds configuration parameters for the table scraper service
type TableScraperConfiguration struct {
	HTTPRequestTimeout time.Duration // Maximum time to wait for HTTP responses
	RenderTimeout      time.Duration // Maximum time for a headless browser fetch
	RequestRateLimit   time.Duration // Minimum delay between consecutive requests
	MaxRetryAttempts   int           // Maximum number of retry attempts for failed requests
	ErrorPageDirectory string        // Where failing pages are dumped for inspection; empty disables
}

// NewDefaultTableScraperConfiguration returns production-ready default configuration
func NewDefaultTableScraperConfiguration() *TableScraperConfiguration {
	return &TableScraperConfiguration{
		HTTPRequestTimeout: 30 * time.Second,
		RenderTimeout:      90 * time.Second,
		RequestRateLimit:   1 * time.Second,
		MaxRetryAttempts:   3,
		ErrorPageDirectory: "error_pages",
	}
}

// TableScraperService fetches listing tables from exchange websites. Static
// pages go through a plain collector; JavaScript-heavy pages through a
// headless browser. Both paths end in the same table walker, so sources
// only differ in their registry entry.
type TableScraperService struct {
	config      *TableScraperConfiguration
	rateLimiter *shared.HTTPRequestRateLimiter
	metrics     *shared.ServiceMetrics
	logger      *logrus.Logger
	now         func() time.Time
}

// NewTableScraperService creates a table scraper service
func NewTableScraperService(config *TableScraperConfiguration, logger *logrus.Logger) *TableScraperService {
	if config == nil {
		config = NewDefaultTableScraperConfiguration()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TableScraperService{
		config:      config,
		rateLimiter: shared.NewHTTPRequestRateLimiter(config.RequestRateLimit),
		metrics:     shared.NewServiceMetrics("table_scraper"),
		logger:      logger,
		now:         time.Now,
	}
}

// FetchTable fetches one source's raw table. API sources are served by
// their dedicated clients, not this scraper.
func (s *TableScraperService) FetchTable(ctx context.Context, src models.SourceConfig) (*models.RawTable, error) {
	if src.Kind == models.SourceKindAPI {
		return nil, shared.NewServiceError(shared.ErrorCategoryValidation, "NOT_SCRAPABLE",
			fmt.Sprintf("source %s is an API source", src.Name), "table_scraper", "FetchTable", false, nil)
	}

	s.rateLimiter.EnforceRateLimit()
	started := s.now()

	var html string
	var err error
	switch src.Kind {
	case models.SourceKindRendered:
		html, err = s.fetchRendered(ctx, src)
	default:
		html, err = s.fetchStatic(ctx, src)
	}
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(started))
		return nil, err
	}

	table, err := s.parseTable(src, html)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(started))
		s.dumpErrorPage(src, html)
		return nil, err
	}
	table.TimeChecked = started

	s.metrics.RecordRequest(true, time.Since(started))
	s.logger.WithFields(logrus.Fields{
		"source":   src.Name,
		"rows":     len(table.Rows),
		"duration": time.Since(started).String(),
	}).Info("Fetched source table")

	return table, nil
}

// fetchStatic fetches a server-rendered page with a plain collector.
func (s *TableScraperService) fetchStatic(ctx context.Context, src models.SourceConfig) (string, error) {
	// Revisits must stay allowed or the retry loop dies on
	// ErrAlreadyVisited after the first attempt.
	collector := colly.NewCollector(colly.AllowURLRevisit())
	collector.SetRequestTimeout(s.config.HTTPRequestTimeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	var html string
	collector.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
	})

	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fetchErr = nil
		if err := collector.Visit(src.URL); err != nil {
			fetchErr = err
		}
		collector.Wait()
		if fetchErr == nil && html != "" {
			return html, nil
		}
		lastErr = fetchErr
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	return "", shared.NewServiceError(shared.ErrorCategoryNetwork, "FETCH_FAILED",
		fmt.Sprintf("failed to fetch %s after %d attempts", src.Name, s.config.MaxRetryAttempts),
		"table_scraper", "fetchStatic", true, lastErr)
}

// fetchRendered loads the page in a headless browser and returns the DOM
// after the listing table becomes visible.
func (s *TableScraperService) fetchRendered(ctx context.Context, src models.SourceConfig) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, s.config.RenderTimeout)
	defer cancelTimeout()

	waitFor := src.Table.Selector
	if waitFor == "" {
		waitFor = tableElem(src.Table)
	}

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(src.URL),
		chromedp.WaitVisible(waitFor, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryNetwork, "RENDER_FAILED",
			fmt.Sprintf("headless fetch of %s failed", src.Name), "table_scraper", "fetchRendered", true, err)
	}
	return html, nil
}

// parseTable walks the configured table element and returns its data rows.
// Header rows inside thead are skipped; the registry's declared columns
// name the cells, so ragged header markup on the page does not matter.
func (s *TableScraperService) parseTable(src models.SourceConfig, html string) (*models.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "PARSE_FAILED",
			fmt.Sprintf("page for %s is not parseable HTML", src.Name), "table_scraper", "parseTable", false, err)
	}

	var table *goquery.Selection
	if src.Table.Selector != "" {
		table = doc.Find(src.Table.Selector).First()
	} else {
		table = doc.Find(tableElem(src.Table)).Eq(src.Table.Index)
	}
	if table.Length() == 0 {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "TABLE_MISSING",
			fmt.Sprintf("no listing table found for %s", src.Name), "table_scraper", "parseTable", true, nil)
	}

	rowElem := src.Table.RowElem
	if rowElem == "" {
		rowElem = "tr"
	}
	cellElem := src.Table.CellElem
	if cellElem == "" {
		cellElem = "td"
	}

	raw := &models.RawTable{Source: src.Name, Columns: src.Columns}
	table.Find(rowElem).Each(func(_ int, row *goquery.Selection) {
		if row.Closest("thead").Length() > 0 {
			return
		}
		var cells []string
		row.Find(cellElem).Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, NormalizeWhitespace(cell.Text()))
		})
		if len(cells) == 0 || isHeaderRow(cells, src.Columns) {
			return
		}
		raw.Rows = append(raw.Rows, cells)
	})

	if len(raw.Rows) == 0 {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "TABLE_EMPTY",
			fmt.Sprintf("listing table for %s contained no data rows", src.Name), "table_scraper", "parseTable", true, nil)
	}
	return raw, nil
}

// isHeaderRow detects a header repeated in the table body, which several
// exchanges emit for pagination.
func isHeaderRow(cells, columns []string) bool {
	if len(columns) == 0 || len(cells) == 0 {
		return false
	}
	return strings.EqualFold(cells[0], columns[0])
}

// dumpErrorPage saves the fetched page so a layout change can be inspected
// after the fact.
func (s *TableScraperService) dumpErrorPage(src models.SourceConfig, html string) {
	if s.config.ErrorPageDirectory == "" || html == "" {
		return
	}
	if err := os.MkdirAll(s.config.ErrorPageDirectory, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s.html",
		strings.ReplaceAll(strings.ToLower(src.Name), " ", "_"),
		s.now().Format("20060102_150405"))
	path := filepath.Join(s.config.ErrorPageDirectory, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		s.logger.WithFields(logrus.Fields{
			"source": src.Name,
			"path":   path,
			"error":  err.Error(),
		}).Warn("Failed to save error page")
		return
	}
	s.logger.WithFields(logrus.Fields{"source": src.Name, "path": path}).Info("Saved error page")
}

func tableElem(sel models.TableSelect) string {
	if sel.TableElem != "" {
		return sel.TableElem
	}
	return "table"
}
