package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// Two sources report the same offering under different legal spellings.
// The run should end in a single comparison row joined to the deal feed
// with agreeing dates.
func TestAggregateMapCompareFlow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ipoDate := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entity-task":
			fmt.Fprint(w, `{"data":{"taskId":9001}}`)
		case "/entity-task-status":
			fmt.Fprint(w, `{"data":[{"status":"SUCCESS"}]}`)
		case "/entity-decisions":
			fmt.Fprint(w, `{"data":[{
				"clientName":"ACME Incorporated",
				"entityId":"000010-E",
				"entityName":"Acme Inc.",
				"matchFlag":true,
				"similarityScore":0.9
			}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	logger := logrus.New()
	aggregator := NewAggregatorService(logger)
	aggregator.now = func() time.Time { return now }
	matcher := NewEntityMatchService(server.URL, "user", "key", shared.NewHTTPClientFactory(30*time.Second), logger)
	matcher.pollInterval = time.Millisecond
	comparator := NewComparisonService(logger)

	perSource := map[string][]models.Listing{
		"NYSE": {{
			CompanyName: "Acme Corp.", Ticker: "ACME", Exchange: "NYSE",
			IPODate: &ipoDate, TimeAdded: now.Add(-48 * time.Hour),
		}},
		"IPOScoop": {{
			CompanyName: "ACME Incorporated", Ticker: "ACME", Exchange: "NYSE",
			IPODate: &ipoDate, TimeAdded: now.Add(-time.Hour),
		}},
	}

	aggregated := aggregator.Aggregate(perSource)
	require.Len(t, aggregated, 1)
	assert.Equal(t, "ACME Incorporated", aggregated[0].CompanyName)
	assert.Equal(t, "Upcoming", aggregated[0].Status)

	mappings, err := matcher.MapEntities(context.Background(), aggregated)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.NotNil(t, mappings[0].Iconum)
	assert.Equal(t, int64(10), *mappings[0].Iconum)
	assert.Equal(t, models.MapStatusMapped, mappings[0].MapStatus)

	deals := []models.DealRecord{{
		Iconum: 10, CompanyName: "Acme Inc.", MasterDeal: 77,
		Ticker: "ACME", TradingDate: &ipoDate, LastUpdated: now,
	}}
	records := comparator.Compare(aggregated, mappings, deals)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme Inc.", records[0].CompanyNameInternal)
	assert.True(t, records[0].DatesMatch)
	assert.True(t, records[0].PricesMatch)
}
