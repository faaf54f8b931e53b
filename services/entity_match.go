package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// iconumAlphabet is the base-31 digit set used by entity identifiers.
// Vowels are excluded so identifiers never spell words.
const iconumAlphabet = "0123456789BCDFGHJKLMNPQRSTVWXYZ"

// EntityMatchService maps scraped company names to internal entity
// identifiers through the bulk concordance API: submit the names as a CSV
// task, poll until the task finishes, then collect the match decisions.
type EntityMatchService struct {
	baseURL    string
	username   string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *shared.ServiceMetrics

	// poll cadence, overridable in tests
	pollInterval time.Duration
	pollAttempts int
}

// NewEntityMatchService creates an entity match service
func NewEntityMatchService(baseURL, username, apiKey string, factory *shared.HTTPClientFactory, logger *logrus.Logger) *EntityMatchService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EntityMatchService{
		baseURL:      strings.TrimRight(baseURL, "/"),
		username:     username,
		apiKey:       apiKey,
		httpClient:   factory.CreateOptimizedHTTPClient(60 * time.Second),
		logger:       logger,
		metrics:      shared.NewServiceMetrics("entity_match"),
		pollInterval: 10 * time.Second,
		pollAttempts: 12,
	}
}

// MapEntities resolves the companies in the aggregated listings to entity
// mappings. Companies the service cannot confidently match come back with
// a nil iconum and an unmapped status rather than being dropped.
func (s *EntityMatchService) MapEntities(ctx context.Context, listings []models.Listing) ([]models.EntityMapping, error) {
	requests := buildMatchRequests(listings)
	if len(requests) == 0 {
		return nil, nil
	}

	started := time.Now()
	taskID, err := s.submitTask(ctx, requests)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(started))
		return nil, err
	}

	if err := s.awaitTask(ctx, taskID); err != nil {
		s.metrics.RecordRequest(false, time.Since(started))
		return nil, err
	}

	decisions, err := s.fetchDecisions(ctx, taskID)
	if err != nil {
		s.metrics.RecordRequest(false, time.Since(started))
		return nil, err
	}
	s.metrics.RecordRequest(true, time.Since(started))

	mappings := DecisionsToMappings(decisions)

	mapped := 0
	for _, m := range mappings {
		if m.MapStatus == models.MapStatusMapped {
			mapped++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"submitted": len(requests),
		"decisions": len(decisions),
		"mapped":    mapped,
		"unmapped":  len(mappings) - mapped,
	}).Info("Entity matching completed")

	return mappings, nil
}

// buildMatchRequests returns one request row per distinct company name,
// carrying ticker and exchange as matching hints.
func buildMatchRequests(listings []models.Listing) []models.MatchRequestRow {
	seen := make(map[string]bool, len(listings))
	rows := make([]models.MatchRequestRow, 0, len(listings))
	for _, l := range listings {
		name := strings.TrimSpace(l.CompanyName)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, models.MatchRequestRow{
			ClientID:    name + "|" + l.Ticker + "|" + l.Exchange,
			CompanyName: name,
			Ticker:      l.Ticker,
			Exchange:    l.Exchange,
		})
	}
	return rows
}

// submitTask uploads the request rows as a CSV file and returns the task id.
func (s *EntityMatchService) submitTask(ctx context.Context, rows []models.MatchRequestRow) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("inputFile", "ipo_companies.csv")
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryProcessing, "CSV_BUILD",
			"failed to build upload payload", "entity_match", "submitTask", false, err)
	}

	cw := csv.NewWriter(part)
	if err := cw.Write([]string{"client_id", "name", "ticker", "exchange"}); err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.ClientID, r.CompanyName, r.Ticker, r.Exchange}); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", err
	}
	if err := writer.WriteField("clientIdColumn", "client_id"); err != nil {
		return "", err
	}
	if err := writer.WriteField("nameColumn", "name"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/entity-task", &body)
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.SetBasicAuth(s.username, s.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, request, 3)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryNetwork, "TASK_SUBMIT",
			"entity match task submission failed", "entity_match", "submitTask", true, err)
	}
	defer response.Body.Close()

	var submitted struct {
		Data struct {
			TaskID json.Number `json:"taskId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&submitted); err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryProcessing, "TASK_DECODE",
			"entity match task response is not valid JSON", "entity_match", "submitTask", false, err)
	}
	if submitted.Data.TaskID.String() == "" {
		return "", shared.NewServiceError(shared.ErrorCategoryProcessing, "TASK_EMPTY",
			"entity match task response carried no task id", "entity_match", "submitTask", false, nil)
	}
	return submitted.Data.TaskID.String(), nil
}

// awaitTask polls the task status on a fixed cadence, giving up after the
// configured number of attempts.
func (s *EntityMatchService) awaitTask(ctx context.Context, taskID string) error {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		status, err := s.taskStatus(ctx, taskID)
		if err != nil {
			return err
		}

		s.logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"attempt": attempt,
			"status":  status,
		}).Debug("Entity match task status")

		switch status {
		case "SUCCESS":
			return nil
		case "FAILURE", "BAD_REQUEST":
			return shared.NewServiceError(shared.ErrorCategoryProcessing, "TASK_FAILED",
				fmt.Sprintf("entity match task %s ended with status %s", taskID, status),
				"entity_match", "awaitTask", false, nil)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	return shared.NewServiceError(shared.ErrorCategoryTimeout, "TASK_TIMEOUT",
		fmt.Sprintf("entity match task %s did not finish within %d polls", taskID, s.pollAttempts),
		"entity_match", "awaitTask", true, nil)
}

func (s *EntityMatchService) taskStatus(ctx context.Context, taskID string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/entity-task-status?taskId="+taskID, nil)
	if err != nil {
		return "", err
	}
	request.SetBasicAuth(s.username, s.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, request, 3)
	if err != nil {
		return "", shared.NewServiceError(shared.ErrorCategoryNetwork, "TASK_STATUS",
			"entity match status request failed", "entity_match", "taskStatus", true, err)
	}
	defer response.Body.Close()

	var payload struct {
		Data []struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload.Data) == 0 {
		return "", shared.NewServiceError(shared.ErrorCategoryProcessing, "TASK_STATUS_EMPTY",
			"entity match status response carried no task", "entity_match", "taskStatus", false, nil)
	}
	return payload.Data[0].Status, nil
}

func (s *EntityMatchService) fetchDecisions(ctx context.Context, taskID string) ([]models.MatchDecision, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/entity-decisions?taskId="+taskID, nil)
	if err != nil {
		return nil, err
	}
	request.SetBasicAuth(s.username, s.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(s.httpClient, request, 3)
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryNetwork, "DECISIONS_FETCH",
			"entity match decisions request failed", "entity_match", "fetchDecisions", true, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []models.MatchDecision `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "DECISIONS_DECODE",
			"entity match decisions response is not valid JSON", "entity_match", "fetchDecisions", false, err)
	}
	return payload.Data, nil
}

// DecisionsToMappings converts raw match decisions into entity mappings:
// one mapping per company, confident matches carrying a decoded iconum and
// everything at or below the confidence threshold marked unmapped.
func DecisionsToMappings(decisions []models.MatchDecision) []models.EntityMapping {
	best := dedupeDecisions(decisions)

	mappings := make([]models.EntityMapping, 0, len(best))
	for _, d := range best {
		m := models.EntityMapping{
			CompanyName:     d.ClientName,
			BestCandidate:   d.EntityName,
			MapStatus:       models.MapStatusUnmapped,
			SimilarityScore: d.SimilarityScore,
			ConfidenceScore: d.ConfidenceScore,
			CountryName:     d.CountryName,
			EntityType:      d.EntityTypeDesc,
			MappedAt:        time.Now(),
		}

		// The resolved identity only survives the confidence gate; a
		// rejected candidate keeps its name in BestCandidate and
		// nothing else.
		if confident(d) {
			if iconum, err := IconumFromEntityID(d.EntityID); err == nil {
				m.EntityName = d.EntityName
				m.EntityID = d.EntityID
				m.Iconum = &iconum
				m.MapStatus = models.MapStatusMapped
			}
		}
		mappings = append(mappings, m)
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].CompanyName < mappings[j].CompanyName
	})
	return mappings
}

// dedupeDecisions keeps the strongest decision per client name: matched
// over unmatched, then the higher similarity score.
func dedupeDecisions(decisions []models.MatchDecision) []models.MatchDecision {
	index := make(map[string]int, len(decisions))
	out := make([]models.MatchDecision, 0, len(decisions))
	for _, d := range decisions {
		key := strings.ToLower(strings.TrimSpace(d.ClientName))
		if key == "" {
			continue
		}
		at, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, d)
			continue
		}
		if betterDecision(d, out[at]) {
			out[at] = d
		}
	}
	return out
}

func betterDecision(a, b models.MatchDecision) bool {
	if a.MatchFlag != b.MatchFlag {
		return a.MatchFlag
	}
	return score(a.SimilarityScore) > score(b.SimilarityScore)
}

func score(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// confident reports whether a decision clears the acceptance gate: the
// service flagged it a match, it names an entity, and its similarity is
// strictly above the threshold.
func confident(d models.MatchDecision) bool {
	if !d.MatchFlag || d.EntityID == "" {
		return false
	}
	sim := d.SimilarityScore
	if sim == nil {
		sim = d.ConfidenceScore
	}
	return sim != nil && *sim > models.ConfidenceThreshold
}

// IconumFromEntityID decodes the numeric iconum from a "XXXXXX-E" style
// entity identifier: the part before the dash is a base-31 number.
func IconumFromEntityID(entityID string) (int64, error) {
	code, _, _ := strings.Cut(entityID, "-")
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, fmt.Errorf("empty entity id")
	}
	var value int64
	for _, r := range code {
		digit := strings.IndexRune(iconumAlphabet, r)
		if digit < 0 {
			return 0, fmt.Errorf("entity id %q contains invalid character %q", entityID, r)
		}
		value = value*31 + int64(digit)
	}
	return value, nil
}

// EntityIDFromIconum is the inverse of IconumFromEntityID, producing the
// zero-padded six character code with the entity suffix.
func EntityIDFromIconum(iconum int64) string {
	if iconum < 0 {
		return ""
	}
	digits := make([]byte, 0, 8)
	v := iconum
	for v > 0 {
		digits = append(digits, iconumAlphabet[v%31])
		v /= 31
	}
	for len(digits) < 6 {
		digits = append(digits, '0')
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits) + "-E"
}
