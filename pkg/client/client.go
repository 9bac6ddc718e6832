// Package client provides the metadata API client with rate limiting,
// retries, identity rotation and optional result caching.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/book-metadata-client/pkg/cache"
	"github.com/Sternrassler/book-metadata-client/pkg/identity"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
	"github.com/Sternrassler/book-metadata-client/pkg/ratelimit"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "book_api_requests_total",
		Help: "Total API requests by HTTP status",
	}, []string{"status"})

	apiRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "book_api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "book_api_retries_total",
		Help: "Total number of retry attempts by reason",
	}, []string{"reason"})

	apiRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_api_retry_exhausted_total",
		Help: "Total number of keys whose retry attempts were exhausted",
	})

	apiResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "book_api_results_total",
		Help: "Total lookup results by kind",
	}, []string{"kind"})
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the lookup endpoint; keys are appended as a path segment.
	BaseURL string

	// Timeout applies to each HTTP call, not to the whole lookup.
	Timeout time.Duration

	// Referer and AcceptLanguage are sent with every request when set.
	Referer        string
	AcceptLanguage string

	// Headers are extra request headers. User-Agent is always the rotated identity.
	Headers map[string]string

	// Retry controls transient failure handling.
	Retry RetryPolicy

	// PermanentCodes and PermanentSentinels mark 200 responses carrying a
	// business error that must never be retried.
	PermanentCodes     []int
	PermanentSentinels []string
}

// DefaultConfig returns a configuration for the Douban ISBN endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.douban.com/v2/book/isbn",
		Timeout:            15 * time.Second,
		Referer:            "https://book.douban.com/",
		AcceptLanguage:     "zh-CN,zh;q=0.9,en;q=0.8",
		Retry:              DefaultRetryPolicy(),
		PermanentCodes:     append([]int(nil), DefaultPermanentCodes...),
		PermanentSentinels: append([]string(nil), DefaultPermanentSentinels...),
	}
}

// Client looks up keys against the metadata API.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	rotator    *identity.Rotator
	cache      *cache.Manager
	classifier Classifier
	config     Config
	logger     zerolog.Logger
	sleep      Sleeper
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCache enables the result cache.
func WithCache(m *cache.Manager) Option {
	return func(c *Client) {
		c.cache = m
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleeper replaces the backoff sleep (used by tests).
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// New creates a new API client.
func New(cfg Config, limiter *ratelimit.Limiter, rotator *identity.Rotator, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if limiter == nil {
		return nil, ErrMissingLimiter
	}
	if rotator == nil {
		return nil, ErrMissingRotator
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		httpClient: &http.Client{},
		limiter:    limiter,
		rotator:    rotator,
		classifier: Classifier{
			PermanentCodes:     cfg.PermanentCodes,
			PermanentSentinels: cfg.PermanentSentinels,
		},
		config: cfg,
		logger: logging.NewLogger(logging.ComponentAPIClient),
		sleep:  SleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch looks up one key. It never returns an error: every failure mode
// ends in a FetchResult. A cancelled ctx yields KindTransientError with the
// context error attached.
func (c *Client) Fetch(ctx context.Context, key isbn.Key) FetchResult {
	if !key.Valid() {
		return c.finish(FetchResult{
			Key:     key,
			Kind:    KindPermanentError,
			Message: "invalid key",
			Err:     fmt.Errorf("%w: %q", ErrInvalidKey, key),
		})
	}

	if cached, ok := c.lookupCache(ctx, key); ok {
		return c.finish(cached)
	}

	// One identity per key; retries reuse it.
	userAgent := c.rotator.Rotate()
	maxAttempts := c.config.Retry.MaxAttempts

	var last Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := c.attempt(ctx, key, userAgent, attempt)

		if !out.Retryable() {
			result := fromOutcome(key, out, attempt)
			c.storeCache(ctx, result)
			return c.finish(result)
		}
		last = out

		if err := ctx.Err(); err != nil {
			return c.finish(cancelled(key, out, attempt, err))
		}
		if attempt == maxAttempts {
			break
		}

		delay := c.config.Retry.NextDelay(attempt)
		apiRetriesTotal.WithLabelValues(retryReason(out)).Inc()
		c.logger.Warn().
			Str("key", key.String()).
			Int("attempt", attempt).
			Int("status_code", out.StatusCode).
			Dur("backoff", delay).
			Err(out.Err).
			Msg("Retrying lookup after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			c.logger.Warn().
				Str("key", key.String()).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return c.finish(cancelled(key, out, attempt, err))
		}
	}

	apiRetryExhaustedTotal.Inc()
	c.logger.Error().
		Str("key", key.String()).
		Int("max_attempts", maxAttempts).
		Int("status_code", last.StatusCode).
		Err(last.Err).
		Msg("Retry attempts exhausted")

	return c.finish(FetchResult{
		Key:        key,
		Kind:       KindTransientError,
		StatusCode: last.StatusCode,
		Code:       last.Code,
		Message:    last.Message,
		Err:        fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, maxAttempts, last.Err),
		Attempts:   maxAttempts,
	})
}

// attempt performs one admitted HTTP call and classifies it.
func (c *Client) attempt(ctx context.Context, key isbn.Key, userAgent string, n int) Outcome {
	var out Outcome

	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.Endpoint(key), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, userAgent)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			elapsed := time.Since(start)
			apiRequestDuration.Observe(elapsed.Seconds())
			apiRequestsTotal.WithLabelValues("network_error").Inc()
			out = c.classifier.Classify(0, nil, err)
			c.logAttempt(key, n, out, elapsed)
			return nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		elapsed := time.Since(start)
		apiRequestDuration.Observe(elapsed.Seconds())
		apiRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if err != nil {
			out = c.classifier.Classify(0, nil, fmt.Errorf("read body: %w", err))
			out.StatusCode = resp.StatusCode
		} else {
			out = c.classifier.Classify(resp.StatusCode, body, nil)
		}
		c.logAttempt(key, n, out, elapsed)
		return nil
	})
	if err != nil {
		// Admission was refused (ctx done) or the request could not be built.
		return Outcome{Kind: KindTransientError, Err: err}
	}
	return out
}

// Endpoint returns the lookup URL for key.
func (c *Client) Endpoint(key isbn.Key) string {
	return c.config.BaseURL + "/" + url.PathEscape(key.String())
}

func (c *Client) setHeaders(req *http.Request, userAgent string) {
	req.Header.Set("Accept", "application/json")
	if c.config.Referer != "" {
		req.Header.Set("Referer", c.config.Referer)
	}
	if c.config.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", c.config.AcceptLanguage)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) logAttempt(key isbn.Key, n int, out Outcome, elapsed time.Duration) {
	c.logger.Debug().
		Str("key", key.String()).
		Int("attempt", n).
		Int("status_code", out.StatusCode).
		Str("kind", string(out.Kind)).
		Dur("duration", elapsed).
		Err(out.Err).
		Msg("Lookup attempt")
}

func (c *Client) finish(r FetchResult) FetchResult {
	apiResultsTotal.WithLabelValues(string(r.Kind)).Inc()
	return r
}

// lookupCache returns a cached terminal result for key. Cache errors are
// logged and treated as a miss.
func (c *Client) lookupCache(ctx context.Context, key isbn.Key) (FetchResult, bool) {
	if c.cache == nil {
		return FetchResult{}, false
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return FetchResult{}, false
	}

	switch entry.Kind {
	case cache.KindFound:
		var payload map[string]any
		if err := json.Unmarshal(entry.Payload, &payload); err != nil || payload == nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Discarding unreadable cache entry")
			return FetchResult{}, false
		}
		c.logger.Debug().Str("key", key.String()).Bool("cache_hit", true).Dur("ttl", entry.TTL()).Msg("Cache hit")
		return FetchResult{
			Key:        key,
			Kind:       KindSuccess,
			Payload:    payload,
			Raw:        entry.Payload,
			StatusCode: http.StatusOK,
			Cached:     true,
		}, true
	case cache.KindNotFound:
		c.logger.Debug().Str("key", key.String()).Bool("cache_hit", true).Dur("ttl", entry.TTL()).Msg("Cache hit (not found)")
		return FetchResult{
			Key:        key,
			Kind:       KindNotFound,
			StatusCode: http.StatusNotFound,
			Cached:     true,
		}, true
	default:
		return FetchResult{}, false
	}
}

// storeCache records terminal results. Failures never affect the lookup.
func (c *Client) storeCache(ctx context.Context, r FetchResult) {
	if c.cache == nil || !r.Terminal() {
		return
	}

	var entry *cache.Entry
	if r.Kind == KindSuccess {
		entry = cache.NewEntry(cache.KindFound, r.Raw, c.cache.TTLFor(cache.KindFound))
	} else {
		entry = cache.NewEntry(cache.KindNotFound, nil, c.cache.TTLFor(cache.KindNotFound))
	}

	if err := c.cache.Set(ctx, r.Key, entry); err != nil {
		c.logger.Warn().Err(err).Str("key", r.Key.String()).Msg("Failed to cache result")
		return
	}
	c.logger.Debug().Str("key", r.Key.String()).Dur("ttl", entry.TTL()).Msg("Cached result")
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func fromOutcome(key isbn.Key, out Outcome, attempts int) FetchResult {
	return FetchResult{
		Key:        key,
		Kind:       out.Kind,
		Payload:    out.Payload,
		Raw:        out.Raw,
		StatusCode: out.StatusCode,
		Code:       out.Code,
		Message:    out.Message,
		Err:        out.Err,
		Attempts:   attempts,
	}
}

func cancelled(key isbn.Key, out Outcome, attempts int, err error) FetchResult {
	return FetchResult{
		Key:        key,
		Kind:       KindTransientError,
		StatusCode: out.StatusCode,
		Code:       out.Code,
		Message:    out.Message,
		Err:        err,
		Attempts:   attempts,
	}
}

func retryReason(out Outcome) string {
	if out.StatusCode == 0 {
		return "network"
	}
	return strconv.Itoa(out.StatusCode)
}
