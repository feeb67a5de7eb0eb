// Package crossref implements the Crossref source: direct DOI resolution and
// bibliographic search over the Crossref REST API.
package crossref

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/matching"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default Crossref API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxResults is the default number of rows requested per search.
	DefaultMaxResults = 5

	// sourceName is the human-readable name for this source.
	sourceName = "Crossref"

	// selectFields limits search responses to what matching needs.
	selectFields = "DOI,title,author,URL"
)

// Config holds configuration for the Crossref client.
type Config struct {
	// BaseURL is the Crossref API base URL.
	BaseURL string

	// Mailto is sent with every request to join the polite pool.
	Mailto string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the number of rows requested per search.
	MaxResults int

	// Enabled indicates whether this source is consulted.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.Source and papersources.DOIResolver for Crossref.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var (
	_ papersources.Source      = (*Client)(nil)
	_ papersources.DOIResolver = (*Client)(nil)
)

// New creates a new Crossref client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := papersources.DefaultUserAgent
	if cfg.Mailto != "" {
		userAgent += " (mailto:" + cfg.Mailto + ")"
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    string(domain.SourceTypeCrossref),
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: userAgent,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new Crossref client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// QueryByDOI resolves a DOI to the work it is registered to.
// A DOI Crossref does not know yields an error matching domain.ErrNotFound.
func (c *Client) QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
	normalized := matching.NormalizeDOI(doi)
	if normalized == "" {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeCrossref), papersources.OpQueryByDOI, "empty DOI", nil)
	}

	endpoint, err := c.endpoint("/works/"+url.PathEscape(normalized), url.Values{})
	if err != nil {
		return nil, err
	}

	body, err := c.httpClient.Get(ctx, endpoint, papersources.OpQueryByDOI, jsonHeader())
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeCrossref), papersources.OpQueryByDOI, "response is not valid JSON", nil)
	}

	message := gjson.GetBytes(body, "message")
	if !message.Exists() {
		return nil, domain.NewNotFoundError("doi", normalized)
	}

	rec := workToCandidate(message)
	if rec.DOI == "" {
		rec.DOI = normalized
	}
	return &rec, nil
}

// Query searches Crossref by bibliographic title and author names.
func (c *Client) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeCrossref), papersources.OpQuery, "reference has no title", nil)
	}

	params := url.Values{}
	params.Set("query.bibliographic", title)
	if len(ref.Authors) > 0 {
		params.Set("query.author", strings.Join(ref.Authors, " "))
	}
	params.Set("rows", strconv.Itoa(c.config.MaxResults))
	params.Set("select", selectFields)

	endpoint, err := c.endpoint("/works", params)
	if err != nil {
		return nil, err
	}

	body, err := c.httpClient.Get(ctx, endpoint, papersources.OpQuery, jsonHeader())
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeCrossref), papersources.OpQuery, "response is not valid JSON", nil)
	}

	items := gjson.GetBytes(body, "message.items").Array()
	return papersources.Lazy(len(items), func(i int) (domain.CandidateRecord, bool) {
		rec := workToCandidate(items[i])
		return rec, rec.Title != ""
	}), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeCrossref
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", domain.NewPermanentSourceError(string(domain.SourceTypeCrossref), papersources.OpQuery, "invalid base URL", err)
	}
	if c.config.Mailto != "" {
		params.Set("mailto", c.config.Mailto)
	}
	return strings.TrimRight(base.String(), "/") + path + encodeQuery(params), nil
}

func encodeQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func jsonHeader() http.Header {
	return http.Header{"Accept": {"application/json"}}
}

// workToCandidate converts a Crossref work object to a candidate record.
func workToCandidate(work gjson.Result) domain.CandidateRecord {
	title := strings.Join(strings.Fields(work.Get("title.0").String()), " ")

	var authors []string
	for _, a := range work.Get("author").Array() {
		if name := authorName(a); name != "" {
			authors = append(authors, name)
		}
	}

	return domain.CandidateRecord{
		Title:   title,
		Authors: authors,
		DOI:     strings.ToLower(strings.TrimSpace(work.Get("DOI").String())),
		Source:  domain.SourceTypeCrossref,
		URL:     work.Get("URL").String(),
	}
}

// authorName renders a Crossref contributor as "Given Family".
// Organisational authors carry only a "name".
func authorName(a gjson.Result) string {
	given := strings.TrimSpace(a.Get("given").String())
	family := strings.TrimSpace(a.Get("family").String())
	switch {
	case family != "" && given != "":
		return given + " " + family
	case family != "":
		return family
	default:
		return strings.TrimSpace(a.Get("name").String())
	}
}
