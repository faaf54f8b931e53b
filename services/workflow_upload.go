package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// Workflow task priority ids. The bulk template wants the numeric id,
// not the priority name.
const (
	workflowPriorityHigh   = 30
	workflowPriorityMedium = 20
)

// uploadHeader is the bulk template's column order. Column names are
// uppercase except i_priority, and the upload is rejected otherwise.
var uploadHeader = []string{
	"i_priority", "ICONUM", "COMPANY_NAME", "MASTER_DEAL", "TICKER",
	"EXCHANGE", "IPO_DATE", "PRICE", "PRICE_RANGE", "SHARES_OFFERED", "NOTES",
}

// GenesysClient talks to the workflow engine's REST API: token auth,
// task counts and the three-step bulk feed (presign, binary PUT, poll).
type GenesysClient struct {
	baseURL    string
	userID     int
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger

	token        string
	pollInterval time.Duration
	pollAttempts int
}

// NewGenesysClient creates a workflow engine client
func NewGenesysClient(baseURL string, userID int, apiKey string, factory *shared.HTTPClientFactory, logger *logrus.Logger) *GenesysClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GenesysClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		userID:       userID,
		apiKey:       apiKey,
		httpClient:   factory.CreateOptimizedHTTPClient(60 * time.Second),
		logger:       logger,
		pollInterval: 10 * time.Second,
		pollAttempts: 5,
	}
}

func (c *GenesysClient) authenticate(ctx context.Context) error {
	if c.token != "" {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"user_id": c.userID,
		"api_key": c.apiKey,
	})
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_AUTH",
			"workflow engine authentication failed", "genesys_client", "authenticate", true, err)
	}
	defer response.Body.Close()

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return err
	}
	if body.Data.AccessToken == "" {
		return shared.NewServiceError(shared.ErrorCategoryProcessing, "WORKFLOW_AUTH_EMPTY",
			"workflow engine returned no access token", "genesys_client", "authenticate", false, nil)
	}
	c.token = body.Data.AccessToken
	return nil
}

func (c *GenesysClient) authedRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.token)
	return request, nil
}

// TaskCount returns the total number of open tasks in the workflow,
// summed across every status and priority bucket.
func (c *GenesysClient) TaskCount(ctx context.Context, workflowID int) (int, error) {
	url := fmt.Sprintf("%s/api/v1/workflows/%d/taskstatuscount", c.baseURL, workflowID)
	request, err := c.authedRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return 0, shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_TASK_COUNT",
			"workflow task count request failed", "genesys_client", "TaskCount", true, err)
	}
	defer response.Body.Close()

	var body struct {
		Data struct {
			Children []map[string]interface{} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return 0, err
	}

	total := 0
	for _, child := range body.Data.Children {
		for key, value := range child {
			if !strings.Contains(strings.ToLower(key), "priority") {
				continue
			}
			if count, ok := value.(float64); ok {
				total += int(count)
			}
		}
	}
	return total, nil
}

// BulkFeedResult summarizes what one bulk upload created.
type BulkFeedResult struct {
	NewTasks       int
	DuplicateTasks int
}

// BulkFeed runs the workflow engine's bulk feed: request a presigned
// upload URL, PUT the CSV there in binary, then poll the file endpoint
// until the engine has processed it and report the per-row outcomes.
func (c *GenesysClient) BulkFeed(ctx context.Context, workflowID int, fileName string, content []byte) (BulkFeedResult, error) {
	csvUUID, uploadURL, err := c.presignUpload(ctx, workflowID, fileName)
	if err != nil {
		return BulkFeedResult{}, err
	}
	if err := c.uploadBinary(ctx, uploadURL, content); err != nil {
		return BulkFeedResult{}, err
	}
	return c.awaitFeedResult(ctx, csvUUID)
}

func (c *GenesysClient) presignUpload(ctx context.Context, workflowID int, fileName string) (string, string, error) {
	payload, err := json.Marshal(map[string]string{"file_name": fileName})
	if err != nil {
		return "", "", err
	}
	url := fmt.Sprintf("%s/api/v1/workflows/%d/bulkfeed", c.baseURL, workflowID)
	request, err := c.authedRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", "", err
	}

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return "", "", shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_PRESIGN",
			"bulk feed presign request failed", "genesys_client", "presignUpload", true, err)
	}
	defer response.Body.Close()

	var body struct {
		Data struct {
			CSVUUID   string `json:"csv_uuid"`
			SignedURL struct {
				URL string `json:"url"`
			} `json:"signed_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		return "", "", err
	}
	if body.Data.CSVUUID == "" || body.Data.SignedURL.URL == "" {
		return "", "", shared.NewServiceError(shared.ErrorCategoryProcessing, "WORKFLOW_PRESIGN_EMPTY",
			"bulk feed presign response carried no upload target", "genesys_client", "presignUpload", false, nil)
	}
	return body.Data.CSVUUID, body.Data.SignedURL.URL, nil
}

func (c *GenesysClient) uploadBinary(ctx context.Context, uploadURL string, content []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(content))
	if err != nil {
		return err
	}
	// The presigned PUT must stay unencoded binary; the engine cannot
	// interpret a BOM or a multipart wrapper.
	request.Header.Set("Content-Type", "application/binary")

	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_UPLOAD",
			"bulk feed file upload failed", "genesys_client", "uploadBinary", true, err)
	}
	response.Body.Close()
	return nil
}

func (c *GenesysClient) awaitFeedResult(ctx context.Context, csvUUID string) (BulkFeedResult, error) {
	fileLink := ""
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return BulkFeedResult{}, err
		}

		url := fmt.Sprintf("%s/api/v1/files/%s?process_name=BulkFeed", c.baseURL, csvUUID)
		request, err := c.authedRequest(ctx, http.MethodGet, url, nil)
		if err != nil {
			return BulkFeedResult{}, err
		}
		response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
		if err != nil {
			return BulkFeedResult{}, shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_FEED_STATUS",
				"bulk feed status request failed", "genesys_client", "awaitFeedResult", true, err)
		}

		var body struct {
			Data struct {
				FileLink   string `json:"file_link"`
				IsTimedout string `json:"is_timedout"`
			} `json:"data"`
		}
		err = json.NewDecoder(response.Body).Decode(&body)
		response.Body.Close()
		if err != nil {
			return BulkFeedResult{}, err
		}

		fileLink = body.Data.FileLink
		if body.Data.IsTimedout != "true" {
			break
		}
		c.logger.WithFields(logrus.Fields{
			"csv_uuid": csvUUID,
			"attempt":  attempt,
		}).Debug("Bulk feed still processing")
		time.Sleep(c.pollInterval)
	}

	if fileLink == "" {
		return BulkFeedResult{}, shared.NewServiceError(shared.ErrorCategoryTimeout, "WORKFLOW_FEED_TIMEOUT",
			"bulk feed result was not ready after polling", "genesys_client", "awaitFeedResult", true, nil)
	}
	return c.downloadFeedResult(ctx, fileLink)
}

// downloadFeedResult fetches the engine's per-row result CSV and counts
// created and duplicate tasks from the message column.
func (c *GenesysClient) downloadFeedResult(ctx context.Context, fileLink string) (BulkFeedResult, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fileLink, nil)
	if err != nil {
		return BulkFeedResult{}, err
	}
	response, err := shared.ExecuteHTTPRequestWithRetry(c.httpClient, request, 3)
	if err != nil {
		return BulkFeedResult{}, shared.NewServiceError(shared.ErrorCategoryNetwork, "WORKFLOW_FEED_RESULT",
			"bulk feed result download failed", "genesys_client", "downloadFeedResult", true, err)
	}
	defer response.Body.Close()

	reader := csv.NewReader(response.Body)
	rows, err := reader.ReadAll()
	if err != nil {
		return BulkFeedResult{}, err
	}
	if len(rows) == 0 {
		return BulkFeedResult{}, nil
	}

	messageCol := -1
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(name), "message") {
			messageCol = i
		}
	}
	if messageCol < 0 {
		return BulkFeedResult{}, shared.NewServiceError(shared.ErrorCategoryProcessing, "WORKFLOW_FEED_SHAPE",
			"bulk feed result has no message column", "genesys_client", "downloadFeedResult", false, nil)
	}

	var result BulkFeedResult
	for _, row := range rows[1:] {
		if messageCol >= len(row) {
			continue
		}
		switch {
		case strings.Contains(row[messageCol], "created successfully"):
			result.NewTasks++
		case strings.Contains(row[messageCol], "already exists"):
			result.DuplicateTasks++
		}
	}
	return result, nil
}

// WorkflowUploadService pushes upcoming IPOs whose deal record disagrees
// with (or lacks) the observed listing into the research workflow as
// tasks, via the engine's bulk feed.
type WorkflowUploadService struct {
	client     *GenesysClient
	workflowID int
	logger     *logrus.Logger
	now        func() time.Time
}

// NewWorkflowUploadService creates a workflow upload service
func NewWorkflowUploadService(client *GenesysClient, workflowID int, logger *logrus.Logger) *WorkflowUploadService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WorkflowUploadService{client: client, workflowID: workflowID, logger: logger, now: time.Now}
}

// UploadUpcoming selects the rows worth a task, feeds them to the
// workflow and logs the engine's task count delta.
func (s *WorkflowUploadService) UploadUpcoming(ctx context.Context, records []models.ComparisonRecord) (BulkFeedResult, error) {
	rows := s.selectUploadRows(records)
	if len(rows) == 0 {
		s.logger.Info("No upcoming IPOs need workflow tasks")
		return BulkFeedResult{}, nil
	}

	before, err := s.client.TaskCount(ctx, s.workflowID)
	if err != nil {
		s.logger.WithError(err).Warn("Workflow task count unavailable")
		before = -1
	}

	content := s.buildUploadCSV(rows)
	fileName := fmt.Sprintf("ipo_monitoring_upload_%s.csv", s.now().Format("2006-01-02"))
	result, err := s.client.BulkFeed(ctx, s.workflowID, fileName, content)
	if err != nil {
		return BulkFeedResult{}, err
	}

	fields := logrus.Fields{
		"rows":       len(rows),
		"new":        result.NewTasks,
		"duplicates": result.DuplicateTasks,
	}
	if before >= 0 {
		if after, err := s.client.TaskCount(ctx, s.workflowID); err == nil {
			fields["task_delta"] = after - before
		}
	}
	s.logger.WithFields(fields).Info("Workflow bulk feed completed")
	return result, nil
}

// selectUploadRows keeps upcoming listings where the deal side is
// missing or disagrees on trading date or price; rows already in sync
// need no task.
func (s *WorkflowUploadService) selectUploadRows(records []models.ComparisonRecord) []models.ComparisonRecord {
	today := s.now().Truncate(24 * time.Hour)

	var out []models.ComparisonRecord
	for _, r := range records {
		if r.IPODate == nil || r.IPODate.Truncate(24*time.Hour).Before(today) {
			continue
		}
		dateDisagrees := r.TradingDate == nil || !datesAgree(r.IPODate, r.TradingDate)
		priceDisagrees := r.PriceInternal == nil || !pricesAgree(r.PriceExternal, r.PriceInternal)
		if dateDisagrees || priceDisagrees {
			out = append(out, r)
		}
	}
	return out
}

// buildUploadCSV renders the bulk template. Numeric columns must be
// whole numbers with missing values as 0, never blank or fractional.
func (s *WorkflowUploadService) buildUploadCSV(records []models.ComparisonRecord) []byte {
	deadline := s.now().AddDate(0, 0, 3)

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Write(uploadHeader)
	for _, r := range records {
		priority := workflowPriorityMedium
		if r.IPODate != nil && !r.IPODate.After(deadline) {
			priority = workflowPriorityHigh
		}
		writer.Write([]string{
			strconv.Itoa(priority),
			wholeNumberCell(r.Iconum),
			r.CompanyNameExternal,
			wholeNumberCell(r.MasterDeal),
			r.Ticker,
			r.ExchangeExternal,
			formatDate(r.IPODate),
			priceCell(r.PriceExternal),
			r.PriceRange,
			wholeFloatCell(r.SharesOffered),
			r.Notes,
		})
	}
	writer.Flush()
	return buf.Bytes()
}

func wholeNumberCell(v *int64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatInt(*v, 10)
}

func wholeFloatCell(v *float64) string {
	if v == nil {
		return "0"
	}
	return strconv.FormatInt(int64(*v), 10)
}

func priceCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
