package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(retries int) *Client {
	cfg := DefaultConfig()
	cfg.Retries = retries
	cfg.RetryBackoff = time.Millisecond
	return NewClient(cfg, zapadapter.NewZapEctoLogger(zap.NewNop(), nil))
}

func TestGet(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		retries      int
		wantStatus   int
		wantAttempts int
	}{
		{name: "success", statuses: []int{200}, retries: 2, wantStatus: 200, wantAttempts: 1},
		{name: "not found is not retried", statuses: []int{404}, retries: 2, wantStatus: 404, wantAttempts: 1},
		{name: "recovers after server error", statuses: []int{503, 502, 200}, retries: 2, wantStatus: 200, wantAttempts: 3},
		{name: "returns last server error", statuses: []int{500, 500, 500, 200}, retries: 2, wantStatus: 500, wantAttempts: 3},
		{name: "no retries", statuses: []int{502, 200}, retries: 0, wantStatus: 502, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				assert.Equal(t, "jper-router", r.Header.Get("User-Agent"))
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.WriteHeader(tt.statuses[n])
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer server.Close()

			resp, err := newTestClient(tt.retries).Get(context.Background(), server.URL, map[string]string{"Accept": "application/json"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, resp.Attempts)
			assert.Equal(t, int32(tt.wantAttempts), calls.Load())
			assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
		})
	}
}

func TestGetTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(1).Get(context.Background(), url, nil)
	assert.Error(t, err)
}

func TestGetRejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", MaxResponseSize+1)))
	}))
	defer server.Close()

	_, err := newTestClient(0).Get(context.Background(), server.URL, nil)
	assert.ErrorContains(t, err, "too large")
}

func TestGetStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Hour
	c := NewClient(cfg, zapadapter.NewZapEctoLogger(zap.NewNop(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, server.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
