// Package websearch implements the Google Search source used for website and
// other non-academic references. It confirms existence rather than authorship:
// the cited page's own <title> is read once, then a single Custom Search
// request looks the reference up by URL or title.
package websearch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/netguard"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

const (
	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5.0

	// DefaultTimeout is the default timeout for one search request.
	DefaultTimeout = 15 * time.Second

	// DefaultPageTimeout is the default timeout for fetching the cited page.
	DefaultPageTimeout = 5 * time.Second

	// DefaultMaxResults is the default number of search results requested.
	DefaultMaxResults = 5

	// maxPageBytes bounds how much of the cited page is read.
	maxPageBytes = 2 << 20

	// sourceName is the human-readable name for this source.
	sourceName = "Google Search"
)

// Config holds configuration for the Google Search client.
type Config struct {
	// APIKey is the Custom Search JSON API key.
	APIKey string

	// EngineID is the programmable search engine ID (cx).
	EngineID string

	// Endpoint overrides the Custom Search API endpoint.
	Endpoint string

	// Timeout bounds one search request.
	Timeout time.Duration

	// PageTimeout bounds the cited page fetch.
	PageTimeout time.Duration

	// RateLimit is the maximum search requests per second.
	RateLimit float64

	// MaxResults is the number of search results requested (1-10).
	MaxResults int

	// FetchPage enables reading the <title> of the cited URL.
	FetchPage bool

	// AllowPrivateNetworks lets the page fetch reach private and loopback
	// addresses. Tests only.
	AllowPrivateNetworks bool

	// Enabled indicates whether this source is consulted.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PageTimeout == 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxResults <= 0 || c.MaxResults > 10 {
		c.MaxResults = DefaultMaxResults
	}
}

// HasCredentials reports whether the search API can be called.
func (c Config) HasCredentials() bool {
	return c.APIKey != "" && c.EngineID != ""
}

// Client implements papersources.Source for Google Search.
type Client struct {
	config      Config
	search      *customsearch.Service
	pageClient  *retryablehttp.Client
	rateLimiter *papersources.RateLimiter
}

// Ensure Client implements Source interface.
var _ papersources.Source = (*Client)(nil)

// New creates a new Google Search client. The search service is only built
// when credentials are configured; without them only the page fetch runs.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	c := &Client{
		config:      cfg,
		pageClient:  newPageClient(cfg.PageTimeout, cfg.AllowPrivateNetworks),
		rateLimiter: papersources.NewRateLimiter(cfg.RateLimit, 1),
	}

	if cfg.HasCredentials() {
		opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		svc, err := customsearch.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating custom search service: %w", err)
		}
		c.search = svc
	}
	return c, nil
}

// newPageClient builds the client for cited pages. Reference URLs come from
// callers, so unless allowPrivate is set every dial is checked by netguard.
func newPageClient(timeout time.Duration, allowPrivate bool) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = 1
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	if !allowPrivate {
		client.HTTPClient.Transport = netguard.Transport()
		client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
			if errors.Is(err, netguard.ErrPrivateAddress) {
				return false, err
			}
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
	}
	return client
}

// Query returns candidates for a website reference: the cited page itself
// when its title can be read, then the search results for the reference's
// URL (or title when it has no URL).
func (c *Client) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	var records []domain.CandidateRecord

	if c.config.FetchPage && ref.URL != "" {
		title, err := c.pageTitle(ctx, ref.URL)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == nil && title != "" {
			records = append(records, domain.CandidateRecord{
				Title:  title,
				Source: domain.SourceTypeGoogleSearch,
			})
		}
	}

	query := strings.TrimSpace(ref.URL)
	if query == "" {
		query = strings.Join(strings.Fields(ref.Title), " ")
	}
	if query == "" || c.search == nil {
		return papersources.FromSlice(records), nil
	}

	results, err := c.runSearch(ctx, query)
	if err != nil {
		// A readable page already answers the question; do not fail the
		// whole lookup because the search API is unhappy.
		if len(records) > 0 && ctx.Err() == nil {
			return papersources.FromSlice(records), nil
		}
		return nil, err
	}

	pageCount := len(records)
	return papersources.Lazy(pageCount+len(results), func(i int) (domain.CandidateRecord, bool) {
		if i < pageCount {
			return records[i], true
		}
		item := results[i-pageCount]
		if item == nil || (item.Title == "" && item.Link == "") {
			return domain.CandidateRecord{}, false
		}
		return domain.CandidateRecord{
			Title:  strings.Join(strings.Fields(item.Title), " "),
			Source: domain.SourceTypeGoogleSearch,
			URL:    item.Link,
		}, true
	}), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeGoogleSearch
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) runSearch(ctx context.Context, query string) ([]*customsearch.Result, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.search.Cse.List().
		Cx(c.config.EngineID).
		Q(query).
		Num(int64(c.config.MaxResults)).
		Context(reqCtx).
		Do()
	if err != nil {
		return nil, classify(ctx, err)
	}
	return resp.Items, nil
}

// classify maps Custom Search failures onto the source error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	source := string(domain.SourceTypeGoogleSearch)

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return domain.NewRateLimitError(source, 0)
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code >= 500:
			return domain.NewTransientSourceError(source, papersources.OpQuery,
				domain.NewExternalAPIError(source, apiErr.Code, apiErr.Message, nil))
		default:
			return domain.NewPermanentSourceError(source, papersources.OpQuery,
				fmt.Sprintf("search API status %d", apiErr.Code),
				domain.NewExternalAPIError(source, apiErr.Code, apiErr.Message, nil))
		}
	}
	return domain.NewTransientSourceError(source, papersources.OpQuery, err)
}

// pageTitle fetches the cited page and returns its <title>.
func (c *Client) pageTitle(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an http(s) URL: %q", pageURL)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", papersources.DefaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.pageClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " "), nil
}
