// Package httpclient is the outbound HTTP client used to reach the package store.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

const (
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps buffered bodies at 10MB
	MaxResponseSize = 10 * 1024 * 1024
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	UserAgent       string
	// Retries is how many times a GET is repeated after a transport error or 5xx
	Retries      int
	RetryBackoff time.Duration
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "jper-router",
		Retries:         2,
		RetryBackoff:    200 * time.Millisecond,
	}
}

// Client buffers responses up to MaxResponseSize and retries idempotent requests
type Client struct {
	client       *http.Client
	userAgent    string
	retries      int
	retryBackoff time.Duration
	logger       ectologger.Logger
}

// NewClient creates a new HTTP client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    cfg.MaxIdleConns,
				IdleConnTimeout: cfg.IdleConnTimeout,
			},
			Timeout: cfg.Timeout,
		},
		userAgent:    cfg.UserAgent,
		retries:      max(cfg.Retries, 0),
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	Duration    time.Duration
	Attempts    int
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get fetches url, retrying transport errors and 5xx responses. The last response is
// returned once retries run out so callers can report its status.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "httpclient.Get")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{"url": url})

	var (
		resp *Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = c.get(ctx, url, headers)
		if resp != nil {
			resp.Attempts = attempt
		}
		retryable := err != nil || resp.StatusCode >= http.StatusInternalServerError
		if !retryable || attempt > c.retries || ctx.Err() != nil {
			break
		}

		wait := c.retryBackoff * time.Duration(attempt)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"attempt": attempt}).Warn("Request failed, retrying")
		} else {
			log.WithFields(map[string]any{"attempt": attempt, "status": resp.StatusCode}).Warn("Server error, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return resp, err
}

func (c *Client) get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return c.Do(ctx, req)
}

// Do sends req once and reads the whole body
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()

	if tp := tracing.GetTraceParent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RecordHTTPClientRequest(req.Method, 0)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()
	metrics.RecordHTTPClientRequest(req.Method, resp.StatusCode)

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large (max %d bytes)", MaxResponseSize)
	}

	duration := time.Since(start)
	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, req.URL.Redacted(), resp.StatusCode, duration)

	return &Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
	}, nil
}
