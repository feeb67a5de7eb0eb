// Package arxiv implements the arXiv source over the arXiv Atom API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultMinInterval spaces requests as the arXiv API terms ask:
	// no more than one request every three seconds.
	DefaultMinInterval = 3 * time.Second

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default number of entries requested per query.
	DefaultMaxResults = 5

	// sourceName is the human-readable name for this source.
	sourceName = "arXiv"
)

var (
	// arxivIDRegex extracts the arXiv ID from the full URL.
	// Matches patterns like "http://arxiv.org/abs/2301.12345v1" or "http://arxiv.org/abs/hep-th/9901001v1".
	arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)
)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MinInterval is the minimum delay between two requests.
	MinInterval time.Duration

	// RateLimit, when set without MinInterval, allows this many requests
	// per second instead. Tests only.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed with RateLimit.
	BurstSize int

	// MaxResults is the number of entries requested per query.
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
	if c.MinInterval == 0 && c.RateLimit == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.BurstSize == 0 {
		c.BurstSize = 1
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.Source for arXiv.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements Source interface.
var _ papersources.Source = (*Client)(nil)

// New creates a new arXiv client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:      string(domain.SourceTypeArXiv),
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		BurstSize:   cfg.BurstSize,
		MinInterval: cfg.MinInterval,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new arXiv client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Query searches arXiv for the reference title.
//
// An exact title query (ti:"...") is tried first; when it yields no entries a
// looser all-fields query follows. If the raw citation names an arXiv
// identifier, that entry is fetched first and leads the candidates.
func (c *Client) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	title := normalizeWhitespace(ref.Title)
	if title == "" {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeArXiv), papersources.OpQuery, "reference has no title", nil)
	}

	var entries []Entry
	if id := ref.ArXivID(); id != "" {
		feed, err := c.fetch(ctx, url.Values{"id_list": {id}})
		if err != nil {
			return nil, err
		}
		entries = append(entries, feed.Entries...)
	}

	feed, err := c.fetch(ctx, c.searchParams(`ti:"`+strings.ReplaceAll(title, `"`, "")+`"`))
	if err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 {
		feed, err = c.fetch(ctx, c.searchParams("all:"+title))
		if err != nil {
			return nil, err
		}
	}
	entries = append(entries, feed.Entries...)

	return papersources.Lazy(len(entries), func(i int) (domain.CandidateRecord, bool) {
		return entryToCandidate(&entries[i])
	}), nil
}

// QueryByID retrieves a specific entry by its arXiv ID.
func (c *Client) QueryByID(ctx context.Context, id string) (*domain.CandidateRecord, error) {
	feed, err := c.fetch(ctx, url.Values{"id_list": {id}})
	if err != nil {
		return nil, err
	}
	for i := range feed.Entries {
		if rec, ok := entryToCandidate(&feed.Entries[i]); ok {
			return &rec, nil
		}
	}
	return nil, domain.NewNotFoundError("arxiv entry", id)
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) searchParams(searchQuery string) url.Values {
	return url.Values{
		"search_query": {searchQuery},
		"max_results":  {strconv.Itoa(c.config.MaxResults)},
	}
}

// fetch issues one API request and decodes the Atom feed.
func (c *Client) fetch(ctx context.Context, query url.Values) (*Feed, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeArXiv), papersources.OpQuery, "invalid base URL", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"
	baseURL.RawQuery = query.Encode()

	body, err := c.httpClient.Get(ctx, baseURL.String(), papersources.OpQuery,
		http.Header{"Accept": {"application/atom+xml"}})
	if err != nil {
		return nil, err
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeArXiv), papersources.OpQuery,
			"decoding response", fmt.Errorf("xml: %w", err))
	}
	return &feed, nil
}

// entryToCandidate converts an arXiv Atom entry to a candidate record.
// Entries without a usable ID or title are skipped.
func entryToCandidate(entry *Entry) (domain.CandidateRecord, bool) {
	if entry == nil {
		return domain.CandidateRecord{}, false
	}

	arxivID := extractArXivID(entry.ID)
	title := normalizeWhitespace(entry.Title)
	if arxivID == "" || title == "" {
		return domain.CandidateRecord{}, false
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	link := strings.TrimSpace(entry.ID)
	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			link = l.Href
			break
		}
	}

	return domain.CandidateRecord{
		Title:   title,
		Authors: authors,
		DOI:     strings.TrimSpace(entry.DOI),
		Source:  domain.SourceTypeArXiv,
		URL:     link,
	}, true
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" -> "2301.12345"
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace trims and collapses multiple whitespace characters.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
