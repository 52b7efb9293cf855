package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"cassette/internal/cache"
	"cassette/internal/httpclient"
	"cassette/internal/metrics"
)

var (
	// ErrNotFound is returned when the catalog does not know the requested object
	ErrNotFound = errors.New("not found in catalog")
	// ErrUnauthorized is returned when the API token is missing or rejected
	ErrUnauthorized = errors.New("catalog rejected credentials")
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 * 1024

// defaultTimeout applies when Options.Timeout is zero
const defaultTimeout = 30 * time.Second

// Options configures the catalog client
type Options struct {
	BaseURL           string
	Token             string
	SignSecret        string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheTTL          time.Duration
}

// Client talks to the remote music catalog
type Client struct {
	baseURL string
	token   string
	secret  string
	http    *httpclient.Client
	limiter *rate.Limiter
	cache   *cache.CatalogCache
	logger  *logrus.Logger
}

// APIError is a non-successful catalog response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("catalog returned status %d: %s", e.StatusCode, e.Message)
}

// New creates a catalog client
func New(opts Options, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		secret:  opts.SignSecret,
		http: httpclient.New(httpclient.Config{
			Timeout:   opts.Timeout,
			UserAgent: opts.UserAgent,
		}),
		limiter: rate.NewLimiter(limit, burst),
		cache:   cache.NewCatalogCache(opts.CacheTTL),
		logger:  logger,
	}
}

// Close releases background resources
func (c *Client) Close() {
	c.cache.Close()
}

// envelope is the wrapper every catalog endpoint returns
type envelope[T any] struct {
	Result T `json:"result"`
}

// getJSON fetches endpoint (relative to the base URL, or absolute) and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, name, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.baseURL + endpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" && strings.HasPrefix(target, c.baseURL+"/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("%s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"endpoint": name,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("Catalog request")

	if resp.StatusCode != http.StatusOK {
		metrics.CatalogRequests.WithLabelValues(name, "status_"+fmt.Sprint(resp.StatusCode)).Inc()
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.CatalogRequests.WithLabelValues(name, "decode_error").Inc()
		return fmt.Errorf("failed to decode %s response: %w", name, err)
	}
	metrics.CatalogRequests.WithLabelValues(name, "ok").Inc()
	return nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error.name", "error", "message"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				apiErr.Message = v.String()
				break
			}
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	}
	return apiErr
}

func escape(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
