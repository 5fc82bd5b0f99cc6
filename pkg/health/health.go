// Package health serves the liveness, readiness and dependency probes of the router.
package health

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/JiscPER/jper-sub000/pkg/metrics"
)

// Status of a dependency or of the whole service
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses so the worst one wins
var severity = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

const checkTimeout = 5 * time.Second

// ErrConsumerStopped is reported for a Kafka consumer that is not running
var ErrConsumerStopped = errors.New("consumer is not running")

// CheckResult is the outcome of probing one dependency
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response is the body of every health endpoint
type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Pinger is any dependency that can report its connectivity
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// PingContext calls f
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Running adapts a boolean probe, such as a consumer's Health, to Pinger
func Running(probe func() bool) Pinger {
	return PingFunc(func(context.Context) error {
		if !probe() {
			return ErrConsumerStopped
		}
		return nil
	})
}

type dependency struct {
	name   string
	pinger Pinger
	// onFailure is the status reported when the ping fails
	onFailure Status
}

// Checker probes the router's dependencies. Checks are registered before the server
// starts and never change afterwards.
type Checker struct {
	deps    []dependency
	started time.Time
	version string
	ready   atomic.Bool
}

// NewChecker creates a checker that reports version. It is not ready until SetReady.
func NewChecker(version string) *Checker {
	return &Checker{started: time.Now(), version: version}
}

// AddCheck registers a dependency the router cannot work without
func (c *Checker) AddCheck(name string, p Pinger) *Checker {
	c.deps = append(c.deps, dependency{name: name, pinger: p, onFailure: StatusUnhealthy})
	return c
}

// AddOptionalCheck registers a dependency whose failure only degrades the router
func (c *Checker) AddOptionalCheck(name string, p Pinger) *Checker {
	c.deps = append(c.deps, dependency{name: name, pinger: p, onFailure: StatusDegraded})
	return c
}

// SetReady flips the readiness probe
func (c *Checker) SetReady(ready bool) { c.ready.Store(ready) }

// IsReady reports whether startup has completed
func (c *Checker) IsReady() bool { return c.ready.Load() }

// Names returns the registered dependency names, sorted
func (c *Checker) Names() []string {
	out := make([]string, 0, len(c.deps))
	for _, d := range c.deps {
		out = append(out, d.name)
	}
	sort.Strings(out)
	return out
}

// RunChecks pings every dependency concurrently, each bounded by checkTimeout
func (c *Checker) RunChecks(ctx context.Context) map[string]CheckResult {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(c.deps))
	)
	var g errgroup.Group
	for _, d := range c.deps {
		g.Go(func() error {
			res := d.probe(ctx)
			metrics.RecordDependencyCheck(d.name, res.Status == StatusHealthy)
			mu.Lock()
			results[d.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d dependency) probe(ctx context.Context) CheckResult {
	if d.pinger == nil {
		return CheckResult{Status: d.onFailure, Message: d.name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := d.pinger.PingContext(ctx)
	res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		res.Status = d.onFailure
		res.Message = err.Error()
	}
	return res
}

// worst returns the most severe status among results
func worst(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		if severity[r.Status] > severity[status] {
			status = r.Status
		}
	}
	return status
}

func (c *Checker) respond(ctx echo.Context, status Status, checks map[string]CheckResult, withUptime bool) error {
	resp := Response{
		Status:     status,
		Version:    c.version,
		Checks:     checks,
		ReportedAt: time.Now(),
	}
	if withUptime {
		resp.Uptime = time.Since(c.started).Round(time.Second).String()
	}
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, resp)
}

// LivenessHandler answers as long as the process can serve HTTP
// GET /api/v1/health/live
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return c.respond(ctx, StatusHealthy, nil, true)
}

// ReadinessHandler fails until startup completes, then reports the dependency checks
// GET /api/v1/health/ready
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return c.respond(ctx, StatusUnhealthy, map[string]CheckResult{
			"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
		}, false)
	}
	return c.HealthHandler(ctx)
}

// HealthHandler reports every dependency check
// GET /api/v1/health
func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.RunChecks(ctx.Request().Context())
	return c.respond(ctx, worst(checks), checks, true)
}

// RegisterRoutes registers the probes under /api/v1/health
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/health")
	g.GET("", c.HealthHandler)
	g.GET("/live", c.LivenessHandler)
	g.GET("/ready", c.ReadinessHandler)
}
