package shared

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPClientFactory hands out pooled HTTP clients keyed by timeout.
// The scraper, the entity match client and the ticket client all pull
// from the same factory so they share transports and idle connections.
type HTTPClientFactory struct {
	defaultTimeout time.Duration
	mutex          sync.RWMutex
	clients        map[string]*http.Client
}

// NewHTTPClientFactory creates a new HTTP client factory
func NewHTTPClientFactory(defaultTimeout time.Duration) *HTTPClientFactory {
	return &HTTPClientFactory{
		defaultTimeout: defaultTimeout,
		clients:        make(map[string]*http.Client),
	}
}

// CreateOptimizedHTTPClient returns a client for the given timeout,
// creating and caching one on first use. A non-positive timeout falls
// back to the factory default.
func (f *HTTPClientFactory) CreateOptimizedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}

	clientKey := fmt.Sprintf("timeout_%d", timeout.Milliseconds())

	f.mutex.RLock()
	if client, exists := f.clients[clientKey]; exists {
		f.mutex.RUnlock()
		return client
	}
	f.mutex.RUnlock()

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,

			DisableKeepAlives: false,

			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,

			DisableCompression: false,
		},
	}

	f.mutex.Lock()
	f.clients[clientKey] = client
	f.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"component":  "HTTPClientFactory",
		"timeout":    timeout,
		"client_key": clientKey,
	}).Debug("Created new optimized HTTP client")

	return client
}

// SetBrowserLikeHeaders sets headers that keep exchange sites and data
// vendors from rejecting the request as an obvious bot.
func SetBrowserLikeHeaders(request *http.Request, acceptHeader string) {
	request.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	request.Header.Set("Accept", acceptHeader)
	request.Header.Set("Accept-Language", "en-US,en;q=0.9")
	request.Header.Set("Cache-Control", "no-cache")
	request.Header.Set("Connection", "keep-alive")
}

// SharedHTTPMetrics aggregates outcomes of every retried request in the
// process. Logged by LogHTTPSummary at the end of a pipeline run.
var SharedHTTPMetrics = NewHTTPMetrics()

// ExecuteHTTPRequestWithRetry issues the request up to maxRetryAttempts
// extra times with exponential backoff and jitter. Only HTTP 200 counts
// as success; any other status closes the body and retries.
func ExecuteHTTPRequestWithRetry(client *http.Client, request *http.Request, maxRetryAttempts int) (*http.Response, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "HTTPClientFactory",
		"method":    "ExecuteHTTPRequestWithRetry",
		"url":       request.URL.String(),
	})

	var httpResponse *http.Response
	var lastExecutionError error
	requestStarted := time.Now()

	for attemptNumber := 0; attemptNumber <= maxRetryAttempts; attemptNumber++ {
		if attemptNumber > 0 {
			SharedHTTPMetrics.RecordRetryAttempt()
			// Jitter keeps concurrent source fetches from retrying in
			// lockstep against the same host.
			baseBackoffDuration := time.Duration(1<<uint(attemptNumber-1)) * time.Second
			jitterDuration := time.Duration(float64(baseBackoffDuration) * 0.1 * (0.5 + 0.5*float64(attemptNumber%3)/2))
			totalBackoffDuration := baseBackoffDuration + jitterDuration

			logger.WithFields(logrus.Fields{
				"attempt":          attemptNumber + 1,
				"backoff_duration": totalBackoffDuration,
			}).Debug("Retrying HTTP request after backoff")

			time.Sleep(totalBackoffDuration)

			// A consumed body must be rewound or the retry sends an
			// empty POST.
			if request.GetBody != nil {
				freshBody, bodyErr := request.GetBody()
				if bodyErr != nil {
					return nil, fmt.Errorf("request body could not be rewound for retry: %w", bodyErr)
				}
				request.Body = freshBody
			}
		}

		httpResponse, lastExecutionError = client.Do(request)
		if lastExecutionError == nil && httpResponse.StatusCode == http.StatusOK {
			SharedHTTPMetrics.RecordHTTPRequest(true, httpResponse.StatusCode, time.Since(requestStarted), "", false)
			logger.WithFields(logrus.Fields{
				"attempt":     attemptNumber + 1,
				"status_code": httpResponse.StatusCode,
			}).Debug("HTTP request successful")
			return httpResponse, nil
		}

		if lastExecutionError != nil {
			lastExecutionError = fmt.Errorf("attempt %d failed with network error: %w", attemptNumber+1, lastExecutionError)
			logger.WithError(lastExecutionError).Debug("HTTP request failed with network error")
		} else {
			lastExecutionError = fmt.Errorf("attempt %d failed with HTTP %d: %s", attemptNumber+1, httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
			logger.WithFields(logrus.Fields{
				"attempt":     attemptNumber + 1,
				"status_code": httpResponse.StatusCode,
			}).Debug("HTTP request failed with non-200 status")
			httpResponse.Body.Close()
		}
	}

	statusCode := 0
	if httpResponse != nil {
		statusCode = httpResponse.StatusCode
	}
	SharedHTTPMetrics.RecordHTTPRequest(false, statusCode, time.Since(requestStarted), "exhausted_retries", false)

	totalAttempts := maxRetryAttempts + 1
	logger.WithFields(logrus.Fields{
		"total_attempts": totalAttempts,
		"final_error":    lastExecutionError,
	}).Error("HTTP request failed after all retry attempts")

	return nil, fmt.Errorf("HTTP request failed after %d attempts: %w", totalAttempts, lastExecutionError)
}

// CleanupAllClients closes idle connections on every cached client and
// empties the cache. Called once the pipeline run finishes.
func (f *HTTPClientFactory) CleanupAllClients() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for key, client := range f.clients {
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
		delete(f.clients, key)
	}

	logrus.WithField("component", "HTTPClientFactory").Debug("Cleaned up all cached HTTP clients")
}
