// Package feed talks to the NASA NeoWs API and normalizes its payloads into
// neo.AsteroidRecord values.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cosmicwatch/neowatch/internal/neo"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/metrics"
)

const (
	DefaultBaseURL = "https://api.nasa.gov/neo/rest/v1"
	DefaultAPIKey  = "DEMO_KEY"
	DefaultTimeout = 5 * time.Second

	// MaxRangeDays is the widest window NeoWs accepts for a feed query.
	MaxRangeDays = 7

	maxBodyBytes = 8 << 20
)

var (
	// ErrNotFound is returned when NeoWs does not know the requested object.
	ErrNotFound = errors.New("feed: object not found")
	// ErrUpstream marks transport failures and non-success responses.
	ErrUpstream = errors.New("feed: upstream unavailable")
	// ErrInvalidRange is returned for inverted or oversized date windows.
	ErrInvalidRange = errors.New("feed: invalid date range")
)

// Config controls how the client reaches NeoWs.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Status is a snapshot of the most recent upstream outcome.
type Status struct {
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
}

// Client is a rate-limited NeoWs client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	log        *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithNow overrides the clock used for classification and CachedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a client from cfg, filling defaults for empty fields.
// RequestsPerMinute <= 0 disables rate limiting.
func NewClient(cfg Config, opts ...Option) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = DefaultAPIKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), max(1, cfg.RequestsPerMinute/60))
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		limiter:    limiter,
		log:        logger.WithModule("feed"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout reports the per-request upstream timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// FetchRange returns every object with a close approach between start and end
// (inclusive, UTC dates), ordered by approach date.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) ([]neo.AsteroidRecord, error) {
	start, end = neo.UTCMidnight(start), neo.UTCMidnight(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(neo.DateLayout), start.Format(neo.DateLayout))
	}
	if span := int(end.Sub(start).Hours() / 24); span >= MaxRangeDays+1 {
		return nil, fmt.Errorf("%w: window of %d days exceeds %d", ErrInvalidRange, span+1, MaxRangeDays+1)
	}

	params := url.Values{}
	params.Set("start_date", start.Format(neo.DateLayout))
	params.Set("end_date", end.Format(neo.DateLayout))

	body, err := c.get(ctx, "feed", "/feed", params)
	if err != nil {
		return nil, err
	}

	records, err := decodeFeed(body, c.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return records, nil
}

// FetchEntity returns the detail record of one object with its full approach
// history and the orbital elements populated.
func (c *Client) FetchEntity(ctx context.Context, id string) (*neo.AsteroidRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}

	body, err := c.get(ctx, "lookup", "/neo/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	rec, err := decodeObject(body, c.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return rec, nil
}

// Status returns the most recent upstream outcome.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(endpoint, fmt.Errorf("%w: rate limit wait: %v", ErrUpstream, err))
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("feed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, c.fail(endpoint, fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(endpoint, fmt.Errorf("%w: read body: %v", ErrUpstream, err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "not_found").Inc()
		c.succeed()
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, c.fail(endpoint, fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, endpoint, resp.StatusCode, truncate(body, 200)))
	}

	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	c.succeed()
	return body, nil
}

func (c *Client) fail(endpoint string, err error) error {
	metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
	c.log.Warn("upstream request failed", zap.String("endpoint", endpoint), zap.Error(err))

	c.mu.Lock()
	c.status.LastFailure = c.now()
	c.status.LastError = err.Error()
	c.mu.Unlock()
	return err
}

func (c *Client) succeed() {
	c.mu.Lock()
	c.status.LastSuccess = c.now()
	c.mu.Unlock()
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
