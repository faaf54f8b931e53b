package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// stubGenesys is a minimal in-process workflow engine: token auth, one
// workflow's task counts and a single bulk feed round trip.
type stubGenesys struct {
	server     *httptest.Server
	uploadBody []byte
	authHeader string
	taskCounts []int
	taskCalls  int
}

func newStubGenesys(t *testing.T) *stubGenesys {
	t.Helper()
	stub := &stubGenesys{taskCounts: []int{5, 5}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"access_token": "stub-token"},
		})
	})
	mux.HandleFunc("/api/v1/workflows/7/taskstatuscount", func(w http.ResponseWriter, r *http.Request) {
		count := stub.taskCounts[stub.taskCalls%len(stub.taskCounts)]
		stub.taskCalls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"children": []map[string]interface{}{
					{"name": "review", "high_priority": count, "medium_priority": 0},
				},
			},
		})
	})
	mux.HandleFunc("/api/v1/workflows/7/bulkfeed", func(w http.ResponseWriter, r *http.Request) {
		stub.authHeader = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"csv_uuid":   "feed-1",
				"signed_url": map[string]string{"url": stub.server.URL + "/upload/feed-1"},
			},
		})
	})
	mux.HandleFunc("/upload/feed-1", func(w http.ResponseWriter, r *http.Request) {
		stub.uploadBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/files/feed-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{
				"file_link":   stub.server.URL + "/download/feed-1",
				"is_timedout": "false",
			},
		})
	})
	mux.HandleFunc("/download/feed-1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "task_id,message\n"+
			"101,Task created successfully\n"+
			"102,Task already exists\n"+
			"103,Task created successfully\n")
	})

	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)
	return stub
}

func testWorkflowService(t *testing.T, stub *stubGenesys, now time.Time) *WorkflowUploadService {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := NewGenesysClient(stub.server.URL, 42, "stub-key", shared.NewHTTPClientFactory(5*time.Second), logger)
	client.pollInterval = time.Millisecond

	service := NewWorkflowUploadService(client, 7, logger)
	service.now = func() time.Time { return now }
	return service
}

func TestUploadUpcomingFeedsStaleRows(t *testing.T) {
	now := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	stub := newStubGenesys(t)
	service := testWorkflowService(t, stub, now)

	records := []models.ComparisonRecord{
		// No deal at all: uploaded with high priority, date is 2 days out.
		{CompanyNameExternal: "Fresh Co", Ticker: "FRSH", ExchangeExternal: "Nasdaq",
			IPODate: timeP(now.AddDate(0, 0, 2)), PriceExternal: floatP(18),
			SharesOffered: floatP(1500000), Iconum: int64P(93)},
		// Deal agrees on date and price: nothing to do.
		{CompanyNameExternal: "Settled Co", IPODate: timeP(now.AddDate(0, 0, 5)),
			TradingDate: timeP(now.AddDate(0, 0, 5)),
			PriceExternal: floatP(12), PriceInternal: floatP(12), MasterDeal: int64P(400)},
		// Deal has a different trading date: uploaded with medium priority.
		{CompanyNameExternal: "Slipped Co", IPODate: timeP(now.AddDate(0, 0, 10)),
			TradingDate:   timeP(now.AddDate(0, 0, 8)),
			PriceExternal: floatP(9), PriceInternal: floatP(9), MasterDeal: int64P(401)},
		// Already listed: never uploaded.
		{CompanyNameExternal: "Listed Co", IPODate: timeP(now.AddDate(0, 0, -3))},
	}

	result, err := service.UploadUpcoming(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewTasks)
	assert.Equal(t, 1, result.DuplicateTasks)
	assert.Equal(t, "Bearer stub-token", stub.authHeader)

	lines := strings.Split(strings.TrimSpace(string(stub.uploadBody)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "i_priority,ICONUM,COMPANY_NAME,MASTER_DEAL,TICKER,EXCHANGE,IPO_DATE,PRICE,PRICE_RANGE,SHARES_OFFERED,NOTES", lines[0])
	assert.Equal(t, "30,93,Fresh Co,0,FRSH,Nasdaq,2026-03-18,18,,1500000,", lines[1])
	assert.Equal(t, "20,0,Slipped Co,401,,,2026-03-26,9,,0,", lines[2])
}

func TestUploadUpcomingSkipsWhenNothingIsStale(t *testing.T) {
	now := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	stub := newStubGenesys(t)
	service := testWorkflowService(t, stub, now)

	records := []models.ComparisonRecord{
		{CompanyNameExternal: "Settled Co", IPODate: timeP(now.AddDate(0, 0, 5)),
			TradingDate: timeP(now.AddDate(0, 0, 5)),
			PriceExternal: floatP(12), PriceInternal: floatP(12)},
	}

	result, err := service.UploadUpcoming(context.Background(), records)
	require.NoError(t, err)
	assert.Zero(t, result.NewTasks)
	assert.Nil(t, stub.uploadBody, "no bulk feed should have been started")
}

func TestSelectUploadRowsPriceDisagreement(t *testing.T) {
	now := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	service := NewWorkflowUploadService(nil, 7, nil)
	service.now = func() time.Time { return now }

	records := []models.ComparisonRecord{
		{CompanyNameExternal: "Repriced Co", IPODate: timeP(now.AddDate(0, 0, 4)),
			TradingDate:   timeP(now.AddDate(0, 0, 4)),
			PriceExternal: floatP(15), PriceInternal: floatP(11)},
		{CompanyNameExternal: "Unpriced Deal Co", IPODate: timeP(now.AddDate(0, 0, 4)),
			TradingDate:   timeP(now.AddDate(0, 0, 4)),
			PriceExternal: floatP(15)},
		{CompanyNameExternal: "Undated Co"},
	}

	rows := service.selectUploadRows(records)
	require.Len(t, rows, 2)
	assert.Equal(t, "Repriced Co", rows[0].CompanyNameExternal)
	assert.Equal(t, "Unpriced Deal Co", rows[1].CompanyNameExternal)
}
