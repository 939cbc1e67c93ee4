// Package httpjson is the transport shared by every source client: timeouts,
// retries with backoff, rate limiting, circuit breaking and the
// {"error": "..."} envelope some sources answer with.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/bookstock/internal/breaker"
	bserrors "github.com/lepinkainen/bookstock/internal/errors"
	"github.com/lepinkainen/bookstock/internal/metrics"
	"github.com/lepinkainen/bookstock/internal/ratelimit"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 3
	maxBackoff           = 10 * time.Second
)

// Client performs GET requests against one source and decodes JSON replies.
type Client struct {
	name          string
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	limiter       *ratelimit.Limiter
	breaker       *breaker.Breaker
	retryAttempts int
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithAPIKey sends key as the "key" query parameter.
func WithAPIKey(key string) Option {
	return func(cl *Client) {
		cl.apiKey = key
	}
}

// WithLimiter throttles requests.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) {
		cl.limiter = l
	}
}

// WithBreaker guards requests with a circuit breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

// WithRetryAttempts sets how many times a transient failure is tried.
func WithRetryAttempts(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.retryAttempts = n
		}
	}
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) {
		if sleep != nil {
			cl.sleep = sleep
		}
	}
}

// New creates a client for the source called name at baseURL.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:          name,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: defaultTimeout},
		retryAttempts: defaultRetryAttempts,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// GetJSON requests path with params and decodes the reply into target.
// A 404 yields errors.ErrNotFound; an error envelope yields a SourceError.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, target any) error {
	if c.baseURL == "" {
		return bserrors.NewSourceError(c.name, errors.New("no base URL configured"))
	}

	endpoint := c.endpoint(path, params)

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		start := time.Now()
		err := c.attempt(ctx, endpoint, target)
		metrics.RecordSourceRequest(c.name, resultLabel(err), time.Since(start))
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) || attempt == c.retryAttempts {
			break
		}

		delay := backoffDelay(attempt)
		var rlErr *bserrors.RateLimitError
		if errors.As(err, &rlErr) && rlErr.RetryAfter > delay {
			delay = min(rlErr.RetryAfter, maxBackoff)
		}

		metrics.SourceRetries.WithLabelValues(c.name).Inc()
		slog.Debug("Retrying source request", "source", c.name, "attempt", attempt, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if errors.Is(lastErr, bserrors.ErrNotFound) || bserrors.IsSourceError(lastErr) || bserrors.IsRateLimitError(lastErr) {
		return lastErr
	}
	return bserrors.NewSourceError(c.name, lastErr)
}

func (c *Client) attempt(ctx context.Context, endpoint string, target any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if c.breaker == nil {
		return c.doJSONRequest(ctx, endpoint, target)
	}
	_, err := breaker.Do(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.doJSONRequest(ctx, endpoint, target)
	})
	return err
}

func (c *Client) endpoint(path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return endpoint
}

// statusError is a non-2xx reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) doJSONRequest(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", c.name, bserrors.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return bserrors.NewRateLimitErrorWithRetry(c.name, "rate limited", parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if reason, ok := errorEnvelope(body); ok {
		return bserrors.NewSourceError(c.name, errors.New(reason))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	return nil
}

// errorEnvelope detects a body of the form {"error": "reason"}.
func errorEnvelope(body []byte) (string, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return "", false
	}
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Error == nil {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) != 1 {
		return "", false
	}
	if *probe.Error == "" {
		return "unknown error", true
	}
	return *probe.Error, true
}

func isRetryable(err error) bool {
	if bserrors.IsRateLimitError(err) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		// Network errors (connection resets etc.)
		if strings.Contains(urlErr.Error(), "connection") {
			return true
		}
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	// exponential backoff capped at 10 seconds
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, bserrors.ErrNotFound):
		return "not_found"
	case breaker.IsOpen(err):
		return "rejected"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BreakerSettings returns breaker settings that do not count misses or error
// envelopes as transport failures.
func BreakerSettings() breaker.Settings {
	s := breaker.DefaultSettings()
	s.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, bserrors.ErrNotFound) || bserrors.IsSourceError(err)
	}
	return s
}
