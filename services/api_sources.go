package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// APISourceService fetches the listing calendars that are served as REST
// endpoints rather than web pages. Each client returns the same RawTable
// shape the scraper produces, so downstream normalization is identical.
type APISourceService struct {
	httpClient        *http.Client
	logger            *logrus.Logger
	alphaVantageKey   string
	spotlightEndpoint string
}

// NewAPISourceService creates an API source service
func NewAPISourceService(alphaVantageKey, spotlightEndpoint string, factory *shared.HTTPClientFactory, logger *logrus.Logger) *APISourceService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &APISourceService{
		httpClient:        factory.CreateOptimizedHTTPClient(30 * time.Second),
		logger:            logger,
		alphaVantageKey:   alphaVantageKey,
		spotlightEndpoint: spotlightEndpoint,
	}
}

// FetchTable fetches one API source's rows.
func (s *APISourceService) FetchTable(ctx context.Context, src models.SourceConfig) (*models.RawTable, error) {
	switch src.Name {
	case "AlphaVantage":
		return s.fetchAlphaVantage(ctx, src)
	case "SpotlightAPI":
		return s.fetchSpotlight(ctx, src)
	}
	return nil, shared.NewServiceError(shared.ErrorCategoryValidation, "UNKNOWN_API",
		fmt.Sprintf("no API client for source %s", src.Name), "api_sources", "FetchTable", false, nil)
}

// fetchAlphaVantage pulls the IPO calendar, which the service returns as
// CSV with a header row.
func (s *APISourceService) fetchAlphaVantage(ctx context.Context, src models.SourceConfig) (*models.RawTable, error) {
	endpoint := src.URL
	if s.alphaVantageKey != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("apikey", s.alphaVantageKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	shared.SetBrowserLikeHeaders(request, "text/csv,application/json;q=0.9,*/*;q=0.8")

	response, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, request, 3)
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, "AV_FETCH",
			"IPO calendar request failed", "api_sources", "fetchAlphaVantage", true, err)
	}
	defer response.Body.Close()

	reader := csv.NewReader(response.Body)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "AV_DECODE",
			"IPO calendar response is not valid CSV", "api_sources", "fetchAlphaVantage", false, err)
	}
	if len(rows) < 2 {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "AV_EMPTY",
			"IPO calendar response carried no data rows", "api_sources", "fetchAlphaVantage", true, nil)
	}

	table := &models.RawTable{
		Source:      src.Name,
		Columns:     rows[0],
		Rows:        rows[1:],
		TimeChecked: time.Now(),
	}
	s.logger.WithFields(logrus.Fields{"source": src.Name, "rows": len(table.Rows)}).Info("Fetched API source")
	return table, nil
}

// fetchSpotlight pulls the listings feed, a JSON array of listing objects.
func (s *APISourceService) fetchSpotlight(ctx context.Context, src models.SourceConfig) (*models.RawTable, error) {
	endpoint := s.spotlightEndpoint
	if endpoint == "" {
		endpoint = src.URL
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	shared.SetBrowserLikeHeaders(request, "application/json")

	response, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, request, 3)
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, "SPOTLIGHT_FETCH",
			"listings feed request failed", "api_sources", "fetchSpotlight", true, err)
	}
	defer response.Body.Close()

	var listings []struct {
		CompanyName string   `json:"companyName"`
		ListingDate string   `json:"listingDate"`
		Price       *float64 `json:"price"`
	}
	if err := json.NewDecoder(response.Body).Decode(&listings); err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "SPOTLIGHT_DECODE",
			"listings feed response is not valid JSON", "api_sources", "fetchSpotlight", false, err)
	}

	table := &models.RawTable{
		Source:      src.Name,
		Columns:     []string{"companyName", "listingDate", "price"},
		TimeChecked: time.Now(),
	}
	for _, l := range listings {
		price := ""
		if l.Price != nil {
			price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
		}
		table.Rows = append(table.Rows, []string{l.CompanyName, l.ListingDate, price})
	}
	if len(table.Rows) == 0 {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "SPOTLIGHT_EMPTY",
			"listings feed carried no rows", "api_sources", "fetchSpotlight", true, nil)
	}

	s.logger.WithFields(logrus.Fields{"source": src.Name, "rows": len(table.Rows)}).Info("Fetched API source")
	return table, nil
}
