package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// DefaultUserAgent is sent when a source does not configure its own.
const DefaultUserAgent = "Helixir-CitationVerifier/1.0"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source identifies the source in errors and metrics.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MinInterval, when set, replaces RateLimit/BurstSize with a strict
	// one-request-per-interval throttle.
	MinInterval time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string
}

// HTTPClient wraps http.Client with rate limiting and response classification.
// Retries are not performed here; see Retrying. It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with its own rate limiter.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg = cfg.withDefaults()

	var limiter *RateLimiter
	if cfg.MinInterval > 0 {
		limiter = NewIntervalLimiter(cfg.MinInterval)
	} else {
		limiter = NewRateLimiter(cfg.RateLimit, cfg.BurstSize)
	}
	return NewHTTPClientWithLimiter(cfg, limiter)
}

// NewHTTPClientWithLimiter creates an HTTP client that shares limiter with
// other clients talking to the same upstream.
func NewHTTPClientWithLimiter(cfg HTTPClientConfig, limiter *RateLimiter) *HTTPClient {
	cfg = cfg.withDefaults()
	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: limiter,
		config:      cfg,
	}
}

func (cfg HTTPClientConfig) withDefaults() HTTPClientConfig {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return cfg
}

// RateLimiter returns the limiter applied before each request.
func (c *HTTPClient) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// Do executes an HTTP request after waiting for the rate limiter.
// It sets the User-Agent and optional API key headers. Context errors are
// returned unchanged; any other transport failure is a TransientSourceError.
// The response status is not inspected.
func (c *HTTPClient) Do(req *http.Request, op string) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// Client timeout with a live request context: retryable.
		}
		return nil, domain.NewTransientSourceError(c.config.Source, op, fmt.Errorf("request failed: %w", err))
	}
	return resp, nil
}

// Get issues a GET request and returns the body of a 2xx response.
//
// Non-2xx responses are classified:
//   - 404: *domain.NotFoundError
//   - 429: *domain.RateLimitError honouring Retry-After
//   - 408 and 5xx: *domain.TransientSourceError
//   - other 4xx: *domain.PermanentSourceError
func (c *HTTPClient) Get(ctx context.Context, url, op string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewPermanentSourceError(c.config.Source, op, "invalid request", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewTransientSourceError(c.config.Source, op, fmt.Errorf("read body: %w", err))
	}

	if err := c.classifyStatus(resp, body, op); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) classifyStatus(resp *http.Response, body []byte, op string) error {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return domain.NewNotFoundError(c.config.Source, resp.Request.URL.Path)
	case status == http.StatusTooManyRequests:
		return domain.NewRateLimitError(c.config.Source, RetryAfter(resp))
	case status == http.StatusRequestTimeout || status >= 500:
		return domain.NewTransientSourceError(c.config.Source, op,
			domain.NewExternalAPIError(c.config.Source, status, string(body), nil))
	default:
		return domain.NewPermanentSourceError(c.config.Source, op,
			fmt.Sprintf("unexpected status %d", status),
			domain.NewExternalAPIError(c.config.Source, status, string(body), nil))
	}
}

// RetryAfter parses the Retry-After header as seconds or an HTTP date.
// It returns zero when the header is absent or unusable.
func RetryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}
