package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() Pinger {
	return PingFunc(func(context.Context) error { return nil })
}

func failing(msg string) Pinger {
	return PingFunc(func(context.Context) error { return errors.New(msg) })
}

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	c := NewChecker("test").AddCheck("database", failing("down"))

	code, resp := serve(t, c, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestReadinessBeforeStartup(t *testing.T) {
	c := NewChecker("test").AddCheck("database", ok())

	code, resp := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "startup")
}

func TestReadinessAfterStartup(t *testing.T) {
	c := NewChecker("test").AddCheck("database", ok()).AddCheck("redis", ok())
	c.SetReady(true)

	code, resp := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestHealthStatuses(t *testing.T) {
	tests := []struct {
		name     string
		checker  *Checker
		wantCode int
		want     Status
	}{
		{
			name:     "all healthy",
			checker:  NewChecker("").AddCheck("database", ok()).AddOptionalCheck("graph", ok()),
			wantCode: http.StatusOK,
			want:     StatusHealthy,
		},
		{
			name:     "optional failure degrades",
			checker:  NewChecker("").AddCheck("database", ok()).AddOptionalCheck("graph", failing("no route")),
			wantCode: http.StatusOK,
			want:     StatusDegraded,
		},
		{
			name:     "critical failure is unhealthy",
			checker:  NewChecker("").AddCheck("database", failing("refused")).AddOptionalCheck("graph", failing("no route")),
			wantCode: http.StatusServiceUnavailable,
			want:     StatusUnhealthy,
		},
		{
			name:     "unconfigured critical dependency",
			checker:  NewChecker("").AddCheck("redis", nil),
			wantCode: http.StatusServiceUnavailable,
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serve(t, tt.checker, "/api/v1/health")
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestRunning(t *testing.T) {
	running := true
	p := Running(func() bool { return running })

	assert.NoError(t, p.PingContext(context.Background()))
	running = false
	assert.ErrorIs(t, p.PingContext(context.Background()), ErrConsumerStopped)
}

func TestFailureMessage(t *testing.T) {
	c := NewChecker("").AddCheck("database", failing("connection refused"))

	results := c.RunChecks(context.Background())
	require.Contains(t, results, "database")
	assert.Equal(t, "connection refused", results["database"].Message)
	assert.Equal(t, []string{"database"}, c.Names())
}
