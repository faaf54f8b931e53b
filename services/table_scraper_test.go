package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
)

const listingPage = `<html><body><table>
<tr><th>Company</th><th>Symbol</th></tr>
<tr><td>Acme Corp</td><td>ACME</td></tr>
</table></body></html>`

func testScraper(attempts int) *TableScraperService {
	config := NewDefaultTableScraperConfiguration()
	config.RequestRateLimit = time.Millisecond
	config.MaxRetryAttempts = attempts
	config.ErrorPageDirectory = ""
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewTableScraperService(config, logger)
}

func TestFetchStaticRetriesSameURL(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(listingPage))
	}))
	defer server.Close()

	s := testScraper(3)
	html, err := s.fetchStatic(context.Background(), models.SourceConfig{Name: "test", URL: server.URL})
	require.NoError(t, err)
	assert.Contains(t, html, "Acme Corp")
	assert.Equal(t, 2, hits, "second attempt must actually revisit the URL")
}

func TestFetchStaticFailsAfterExhaustedAttempts(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := testScraper(2)
	_, err := s.fetchStatic(context.Background(), models.SourceConfig{Name: "test", URL: server.URL})
	require.Error(t, err)
	assert.Equal(t, 2, hits)
}
