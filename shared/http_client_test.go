package shared

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteHTTPRequestWithRetryRewindsPostBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(payload))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	request, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte("name,ticker\nAcme Corp,ACME\n")))
	require.NoError(t, err)

	client := NewHTTPClientFactory(0).CreateOptimizedHTTPClient(0)
	response, err := ExecuteHTTPRequestWithRetry(client, request, 2)
	require.NoError(t, err)
	response.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, "name,ticker\nAcme Corp,ACME\n", bodies[0])
	assert.Equal(t, bodies[0], bodies[1], "retried attempt must resend the full body")
}

func TestExecuteHTTPRequestWithRetryExhaustsOnPersistentFailure(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	request, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	client := NewHTTPClientFactory(0).CreateOptimizedHTTPClient(0)
	_, err = ExecuteHTTPRequestWithRetry(client, request, 1)
	require.Error(t, err)
	assert.Equal(t, 2, hits)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
