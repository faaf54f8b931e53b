package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// TicketStatus is the ticketing system's view of one ticket. DuplicateOf is
// set when the ticket was resolved as a duplicate of another.
type TicketStatus struct {
	Status      string
	DuplicateOf *int64
}

// CreateTicketRequest carries the fields for a new research ticket.
type CreateTicketRequest struct {
	Subject   string
	Body      string
	Severity  string
	Product   string
	Questions []QuestionAnswer
}

// Structured question ids in the ticketing system for the IPO fields.
const (
	QuestionIPODate  = 31405
	QuestionExchange = 31406
	QuestionCUSIP    = 31407
	QuestionTicker   = 31408
)

// QuestionAnswer is one structured field answer on a ticket.
type QuestionAnswer struct {
	ID    int
	Value string
}

// RPDAPI is the surface of the ticketing system the sync needs. The HTTP
// client implements it; tests substitute a fake.
type RPDAPI interface {
	CreateTicket(ctx context.Context, req CreateTicketRequest) (int64, error)
	AddComment(ctx context.Context, rpdNumber int64, comment string) error
	UpdateQuestions(ctx context.Context, rpdNumber int64, answers []QuestionAnswer) error
	GetTicketStatus(ctx context.Context, rpdNumber int64) (TicketStatus, error)
}

// RPDClient talks to the ticketing REST API. Creation is rate limited to
// one request per second; the service throttles bulk writers.
type RPDClient struct {
	baseURL     string
	username    string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *shared.HTTPRequestRateLimiter
	logger      *logrus.Logger
}

// NewRPDClient creates a ticketing API client
func NewRPDClient(baseURL, username, apiKey string, factory *shared.HTTPClientFactory, logger *logrus.Logger) *RPDClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RPDClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		apiKey:      apiKey,
		httpClient:  factory.CreateOptimizedHTTPClient(30 * time.Second),
		rateLimiter: shared.NewHTTPRequestRateLimiter(time.Second),
		logger:      logger,
	}
}

// questionPayload is the wire shape of one structured answer.
type questionPayload struct {
	ID      int `json:"Id"`
	Answers []struct {
		AnswerValue string `json:"AnswerValue"`
	} `json:"Answers"`
}

func questionsPayload(answers []QuestionAnswer) []questionPayload {
	out := make([]questionPayload, 0, len(answers))
	for _, a := range answers {
		q := questionPayload{ID: a.ID}
		q.Answers = append(q.Answers, struct {
			AnswerValue string `json:"AnswerValue"`
		}{AnswerValue: a.Value})
		out = append(out, q)
	}
	return out
}

// CreateTicket opens a new ticket and returns its number.
func (c *RPDClient) CreateTicket(ctx context.Context, req CreateTicketRequest) (int64, error) {
	c.rateLimiter.EnforceRateLimit()

	payload, err := json.Marshal(struct {
		Subject   string            `json:"subject"`
		Body      string            `json:"body"`
		Severity  string            `json:"severity"`
		Product   string            `json:"product"`
		Questions []questionPayload `json:"questions,omitempty"`
	}{
		Subject:   req.Subject,
		Body:      req.Body,
		Severity:  req.Severity,
		Product:   req.Product,
		Questions: questionsPayload(req.Questions),
	})
	if err != nil {
		return 0, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpds", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.SetBasicAuth(c.username, c.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return 0, shared.NewServiceError(shared.ErrorCategoryNetwork, "RPD_CREATE",
			"ticket creation failed", "rpd_client", "CreateTicket", true, err)
	}
	defer response.Body.Close()

	var created struct {
		RPDNumber int64 `json:"rpdNumber"`
	}
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		return 0, shared.NewServiceError(shared.ErrorCategoryProcessing, "RPD_CREATE_DECODE",
			"ticket creation response is not valid JSON", "rpd_client", "CreateTicket", false, err)
	}
	if created.RPDNumber == 0 {
		return 0, shared.NewServiceError(shared.ErrorCategoryProcessing, "RPD_CREATE_EMPTY",
			"ticket creation response carried no ticket number", "rpd_client", "CreateTicket", false, nil)
	}
	return created.RPDNumber, nil
}

// AddComment appends a comment to an existing ticket.
func (c *RPDClient) AddComment(ctx context.Context, rpdNumber int64, comment string) error {
	c.rateLimiter.EnforceRateLimit()

	payload, err := json.Marshal(map[string]string{"content": comment})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rpds/%d/comments", c.baseURL, rpdNumber)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.SetBasicAuth(c.username, c.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return shared.NewServiceError(shared.ErrorCategoryNetwork, "RPD_COMMENT",
			fmt.Sprintf("comment on ticket %d failed", rpdNumber), "rpd_client", "AddComment", true, err)
	}
	response.Body.Close()
	return nil
}

// UpdateQuestions posts structured answers against a ticket's question
// fields, keeping them queryable alongside the free-text comments.
func (c *RPDClient) UpdateQuestions(ctx context.Context, rpdNumber int64, answers []QuestionAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	c.rateLimiter.EnforceRateLimit()

	payload, err := json.Marshal(questionsPayload(answers))
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rpds/%d/questions", c.baseURL, rpdNumber)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.SetBasicAuth(c.username, c.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return shared.NewServiceError(shared.ErrorCategoryNetwork, "RPD_QUESTIONS",
			fmt.Sprintf("question update on ticket %d failed", rpdNumber), "rpd_client", "UpdateQuestions", true, err)
	}
	response.Body.Close()
	return nil
}

// GetTicketStatus fetches a ticket's current status and, when it was closed
// as a duplicate, the ticket it was folded into.
func (c *RPDClient) GetTicketStatus(ctx context.Context, rpdNumber int64) (TicketStatus, error) {
	c.rateLimiter.EnforceRateLimit()

	url := fmt.Sprintf("%s/rpds/%d/status", c.baseURL, rpdNumber)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return TicketStatus{}, err
	}
	request.SetBasicAuth(c.username, c.apiKey)

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return TicketStatus{}, shared.NewServiceError(shared.ErrorCategoryNetwork, "RPD_STATUS",
			fmt.Sprintf("status of ticket %d failed", rpdNumber), "rpd_client", "GetTicketStatus", true, err)
	}
	defer response.Body.Close()

	var payload struct {
		Status     string `json:"status"`
		Resolution struct {
			DuplicateOf *int64 `json:"duplicateOf"`
		} `json:"resolution"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return TicketStatus{}, err
	}
	return TicketStatus{Status: payload.Status, DuplicateOf: payload.Resolution.DuplicateOf}, nil
}

// RPDSyncSummary counts what a sync pass did.
type RPDSyncSummary struct {
	Created    int
	Updated    int
	Resolved   int
	Redirected int
	Errors     int
}

// RPDSyncService reconciles the local ticket snapshots with the comparison
// output and the ticketing system itself.
type RPDSyncService struct {
	api      RPDAPI
	logger   *logrus.Logger
	linkBase string
	now      func() time.Time
}

// NewRPDSyncService creates an RPD sync service
func NewRPDSyncService(api RPDAPI, linkBase string, logger *logrus.Logger) *RPDSyncService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RPDSyncService{api: api, logger: logger, linkBase: strings.TrimRight(linkBase, "/"), now: time.Now}
}

// Sync merges the fresh comparison records into the local ticket snapshots.
// For each company: open a ticket when none exists yet, comment on the
// ticket when a tracked field changed, comment and locally resolve on a
// withdrawal, and follow duplicate resolutions to the surviving ticket.
// Returns the updated snapshots; errors on individual tickets are logged
// and counted without aborting the pass.
func (s *RPDSyncService) Sync(ctx context.Context, records []models.ComparisonRecord, existing []models.RPDRecord) ([]models.RPDRecord, RPDSyncSummary) {
	var summary RPDSyncSummary

	byName := make(map[string]int, len(existing))
	out := make([]models.RPDRecord, len(existing))
	copy(out, existing)
	for i := range out {
		if out[i].FormattedName == "" {
			out[i].FormattedName = FormatCompanyName(out[i].CompanyName)
		}
		byName[out[i].FormattedName] = i
	}

	s.refreshStatuses(ctx, out, &summary)

	checked := s.now()
	for _, rec := range records {
		key := FormatCompanyName(rec.CompanyNameExternal)
		if key == "" {
			continue
		}

		idx, known := byName[key]
		if !known {
			snapshot := snapshotFromComparison(rec, key, checked)
			if rec.CompanyNameExternal != "" {
				s.openTicket(ctx, &snapshot, rec, &summary)
			}
			byName[key] = len(out)
			out = append(out, snapshot)
			continue
		}

		current := &out[idx]
		if current.RPDNumber == nil {
			// A ticket was never opened (earlier create failed); retry.
			refreshSnapshot(current, rec, checked)
			s.openTicket(ctx, current, rec, &summary)
			continue
		}

		if rec.Status == "Withdrawn" && current.RPDStatus != models.RPDStatusResolved {
			comment := fmt.Sprintf("%s has withdrawn its offering. No further action is expected.", rec.CompanyNameExternal)
			if err := s.api.AddComment(ctx, *current.RPDNumber, comment); err != nil {
				s.logTicketError(err, *current.RPDNumber, "withdrawal comment")
				summary.Errors++
			} else {
				current.RPDStatus = models.RPDStatusResolved
				summary.Resolved++
			}
			refreshSnapshot(current, rec, checked)
			continue
		}

		if changes := trackedFieldChanges(*current, rec); len(changes) > 0 && current.RPDStatus != models.RPDStatusResolved {
			comment := updateComment(rec, changes)
			if err := s.api.AddComment(ctx, *current.RPDNumber, comment); err != nil {
				s.logTicketError(err, *current.RPDNumber, "update comment")
				summary.Errors++
			} else {
				summary.Updated++
			}
			if err := s.api.UpdateQuestions(ctx, *current.RPDNumber, questionAnswers(rec)); err != nil {
				s.logTicketError(err, *current.RPDNumber, "question update")
				summary.Errors++
			}
		}
		refreshSnapshot(current, rec, checked)
	}

	s.logger.WithFields(logrus.Fields{
		"created":    summary.Created,
		"updated":    summary.Updated,
		"resolved":   summary.Resolved,
		"redirected": summary.Redirected,
		"errors":     summary.Errors,
	}).Info("RPD sync completed")

	return out, summary
}

// refreshStatuses pulls the current status of every open ticket. A ticket
// resolved as a duplicate redirects the snapshot to the surviving ticket
// and clears the local status so future updates land there.
func (s *RPDSyncService) refreshStatuses(ctx context.Context, snapshots []models.RPDRecord, summary *RPDSyncSummary) {
	for i := range snapshots {
		rec := &snapshots[i]
		if rec.RPDNumber == nil || rec.RPDStatus == models.RPDStatusResolved {
			continue
		}
		status, err := s.api.GetTicketStatus(ctx, *rec.RPDNumber)
		if err != nil {
			s.logTicketError(err, *rec.RPDNumber, "status refresh")
			summary.Errors++
			continue
		}
		if !strings.EqualFold(status.Status, models.RPDStatusResolved) {
			continue
		}
		if status.DuplicateOf != nil {
			rec.RPDNumber = status.DuplicateOf
			rec.RPDLink = s.ticketLink(*status.DuplicateOf)
			rec.RPDStatus = ""
			summary.Redirected++
		} else {
			rec.RPDStatus = models.RPDStatusResolved
		}
	}
}

// openTicket creates a ticket for a company that has none.
func (s *RPDSyncService) openTicket(ctx context.Context, snapshot *models.RPDRecord, rec models.ComparisonRecord, summary *RPDSyncSummary) {
	number, err := s.api.CreateTicket(ctx, CreateTicketRequest{
		Subject:   fmt.Sprintf("New IPO: %s (%s)", rec.CompanyNameExternal, rec.ExchangeExternal),
		Body:      ticketBody(rec),
		Severity:  "Medium",
		Product:   "Equity New Issues",
		Questions: questionAnswers(rec),
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"company": rec.CompanyNameExternal,
			"error":   err.Error(),
		}).Warn("Ticket creation failed")
		summary.Errors++
		return
	}
	created := s.now()
	snapshot.RPDNumber = &number
	snapshot.RPDLink = s.ticketLink(number)
	snapshot.RPDCreated = &created
	snapshot.RPDStatus = models.RPDStatusPending
	summary.Created++
}

func (s *RPDSyncService) ticketLink(number int64) string {
	return fmt.Sprintf("%s/%d", s.linkBase, number)
}

func (s *RPDSyncService) logTicketError(err error, number int64, operation string) {
	s.logger.WithFields(logrus.Fields{
		"rpd_number": number,
		"operation":  operation,
		"error":      err.Error(),
	}).Warn("Ticket operation failed")
}

// trackedFieldChanges reports which of the fields worth a ticket comment
// differ between the snapshot and the fresh record. Exchange moves are
// deliberately not tracked; segment renames and venue transfers are too
// noisy to page anyone about.
func trackedFieldChanges(snapshot models.RPDRecord, rec models.ComparisonRecord) []string {
	var changes []string
	if !datesAgree(snapshot.IPODate, rec.IPODate) {
		changes = append(changes, fmt.Sprintf("IPO date is now %s (was %s)", formatDate(rec.IPODate), formatDate(snapshot.IPODate)))
	}
	if rec.CUSIP != "" && rec.CUSIP != snapshot.CUSIP {
		changes = append(changes, fmt.Sprintf("CUSIP is now %s (was %s)", rec.CUSIP, valueOrNone(snapshot.CUSIP)))
	}
	if rec.Ticker != "" && !SameTicker(rec.Ticker, snapshot.Ticker) {
		changes = append(changes, fmt.Sprintf("Ticker is now %s (was %s)", rec.Ticker, valueOrNone(snapshot.Ticker)))
	}
	return changes
}

// questionAnswers carries the record's current structured fields. Every
// answer is sent with its current value, not just the changed ones, so
// the ticket always reflects the latest snapshot.
func questionAnswers(rec models.ComparisonRecord) []QuestionAnswer {
	return []QuestionAnswer{
		{ID: QuestionIPODate, Value: formatDate(rec.IPODate)},
		{ID: QuestionExchange, Value: rec.ExchangeExternal},
		{ID: QuestionCUSIP, Value: rec.CUSIP},
		{ID: QuestionTicker, Value: rec.Ticker},
	}
}

func updateComment(rec models.ComparisonRecord, changes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Listing details for %s have changed:\n", rec.CompanyNameExternal)
	for _, change := range changes {
		fmt.Fprintf(&b, "- %s\n", change)
	}
	b.WriteString("\nPlease confirm the deal record reflects the new details.")
	return b.String()
}

func ticketBody(rec models.ComparisonRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", rec.CompanyNameExternal)
	fmt.Fprintf(&b, "Exchange: %s\n", rec.ExchangeExternal)
	fmt.Fprintf(&b, "Expected listing date: %s\n", formatDate(rec.IPODate))
	if rec.PriceExternal != nil {
		fmt.Fprintf(&b, "Price: %.2f\n", *rec.PriceExternal)
	} else if rec.PriceRange != "" {
		fmt.Fprintf(&b, "Price range: %s\n", rec.PriceRange)
	}
	if rec.Ticker != "" {
		fmt.Fprintf(&b, "Ticker: %s\n", rec.Ticker)
	}
	if rec.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", rec.Notes)
	}
	b.WriteString("\nIs this offering covered? Please confirm the listing date, price and identifiers.")
	return b.String()
}

func snapshotFromComparison(rec models.ComparisonRecord, formatted string, checked time.Time) models.RPDRecord {
	return models.RPDRecord{
		Iconum:        rec.Iconum,
		CUSIP:         rec.CUSIP,
		CompanyName:   rec.CompanyNameExternal,
		Ticker:        rec.Ticker,
		Exchange:      rec.ExchangeExternal,
		IPODate:       rec.IPODate,
		Price:         rec.PriceExternal,
		PriceRange:    rec.PriceRange,
		Status:        rec.Status,
		Notes:         rec.Notes,
		LastChecked:   &checked,
		DealID:        rec.ClientDealID,
		FormattedName: formatted,
	}
}

func refreshSnapshot(snapshot *models.RPDRecord, rec models.ComparisonRecord, checked time.Time) {
	snapshot.Iconum = rec.Iconum
	snapshot.CUSIP = rec.CUSIP
	snapshot.CompanyName = rec.CompanyNameExternal
	snapshot.Ticker = rec.Ticker
	snapshot.Exchange = rec.ExchangeExternal
	snapshot.IPODate = rec.IPODate
	snapshot.Price = rec.PriceExternal
	snapshot.PriceRange = rec.PriceRange
	snapshot.Status = rec.Status
	snapshot.Notes = rec.Notes
	snapshot.DealID = rec.ClientDealID
	snapshot.LastChecked = &checked
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format("2006-01-02")
}

func valueOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
