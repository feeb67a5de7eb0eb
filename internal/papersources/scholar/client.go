// Package scholar implements the Google Scholar source by reading the public
// results page. Scholar has no API and blocks aggressive clients, so every
// request passes through a strict minimum-interval throttle shared by all
// callers of one Client.
package scholar

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default Google Scholar base URL.
	DefaultBaseURL = "https://scholar.google.com"

	// DefaultMinInterval is the default minimum delay between requests.
	DefaultMinInterval = 2 * time.Second

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 20 * time.Second

	// DefaultMaxResults is the default number of results read from a page.
	DefaultMaxResults = 10

	// DefaultBlockedBackoff is the wait suggested after Scholar serves a CAPTCHA.
	DefaultBlockedBackoff = 10 * time.Second

	// browserUserAgent is sent because Scholar rejects obvious bots outright.
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// sourceName is the human-readable name for this source.
	sourceName = "Google Scholar"
)

var (
	// leadingTags matches result-type markers such as "[PDF]" or "[CITATION][C]".
	leadingTags = regexp.MustCompile(`^\s*(\[[A-Z]+\]\s*)+`)

	// blockedMarkers identify the CAPTCHA / unusual traffic interstitial.
	blockedMarkers = [][]byte{
		[]byte("gs_captcha"),
		[]byte("unusual traffic"),
		[]byte("g-recaptcha"),
		[]byte("/sorry/"),
	}
)

// Config holds configuration for the Google Scholar client.
type Config struct {
	// BaseURL is the Google Scholar base URL.
	BaseURL string

	// MinInterval is the minimum delay between two requests.
	MinInterval time.Duration

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxResults caps the results read from one page.
	MaxResults int

	// BlockedBackoff is the retry hint attached to CAPTCHA responses.
	BlockedBackoff time.Duration

	// Enabled indicates whether this source is consulted.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.BlockedBackoff == 0 {
		c.BlockedBackoff = DefaultBlockedBackoff
	}
}

// Client implements papersources.Source for Google Scholar.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements Source interface.
var _ papersources.Source = (*Client)(nil)

// New creates a new Google Scholar client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:      string(domain.SourceTypeGoogleScholar),
		Timeout:     cfg.Timeout,
		MinInterval: cfg.MinInterval,
		UserAgent:   browserUserAgent,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new Google Scholar client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Query searches Google Scholar for the reference title.
// A CAPTCHA page is reported as a rate limit so the retry policy backs off.
func (c *Client) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	title := strings.Join(strings.Fields(ref.Title), " ")
	if title == "" {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeGoogleScholar), papersources.OpQuery, "reference has no title", nil)
	}

	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeGoogleScholar), papersources.OpQuery, "invalid base URL", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/scholar"
	params := url.Values{}
	params.Set("q", title)
	params.Set("hl", "en")
	params.Set("num", strconv.Itoa(c.config.MaxResults))
	base.RawQuery = params.Encode()

	body, err := c.httpClient.Get(ctx, base.String(), papersources.OpQuery, http.Header{
		"Accept":          {"text/html"},
		"Accept-Language": {"en-US,en;q=0.9"},
	})
	if err != nil {
		return nil, err
	}
	if isBlocked(body) {
		return nil, domain.NewRateLimitError(string(domain.SourceTypeGoogleScholar), c.config.BlockedBackoff)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentSourceError(string(domain.SourceTypeGoogleScholar), papersources.OpQuery, "parsing results page", err)
	}

	results := doc.Find("div.gs_ri")
	n := min(results.Length(), c.config.MaxResults)
	return papersources.Lazy(n, func(i int) (domain.CandidateRecord, bool) {
		return resultToCandidate(results.Eq(i))
	}), nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeGoogleScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func isBlocked(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range blockedMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// resultToCandidate reads one ".gs_ri" block.
func resultToCandidate(s *goquery.Selection) (domain.CandidateRecord, bool) {
	heading := s.Find("h3.gs_rt").First()
	link, _ := heading.Find("a").First().Attr("href")

	heading = heading.Clone()
	heading.Find("span.gs_ctc, span.gs_ctg2, span.gs_ctu").Remove()
	title := cleanText(heading.Text())
	title = strings.TrimSpace(leadingTags.ReplaceAllString(title, ""))
	if title == "" {
		return domain.CandidateRecord{}, false
	}

	authors, truncated := parseAuthorLine(s.Find("div.gs_a").First().Text())
	return domain.CandidateRecord{
		Title:            title,
		Authors:          authors,
		Source:           domain.SourceTypeGoogleScholar,
		URL:              link,
		AuthorsTruncated: truncated,
	}, true
}

// parseAuthorLine extracts names from a byline such as
// "A Vaswani, N Shazeer, N Parmar… - Advances in neural …, 2017 - proceedings.neurips.cc".
// truncated reports the trailing ellipsis Scholar adds when it cuts the list.
func parseAuthorLine(line string) (authors []string, truncated bool) {
	line = cleanText(line)
	if i := strings.Index(line, " - "); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	truncated = strings.HasSuffix(line, "…") || strings.HasSuffix(line, "...")

	for _, part := range strings.Split(line, ",") {
		name := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(part), "…."))
		if name == "" || name == "…" {
			continue
		}
		authors = append(authors, name)
	}
	return authors, truncated
}

// cleanText collapses whitespace, including non-breaking spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
