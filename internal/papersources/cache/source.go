package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/matching"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

// Recorder receives cache hit/miss counts.
// *observability.Metrics satisfies it.
type Recorder interface {
	RecordCacheHit(source string)
	RecordCacheMiss(source string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit(string)  {}
func (nopRecorder) RecordCacheMiss(string) {}

// Option configures a cached source.
type Option func(*cachedSource)

// WithLogger sets the logger used for cache failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *cachedSource) {
		c.logger = logger
	}
}

// WithMetrics sets the hit/miss recorder.
func WithMetrics(rec Recorder) Option {
	return func(c *cachedSource) {
		if rec != nil {
			c.recorder = rec
		}
	}
}

// Wrap memoizes inner's answers in store. Errors are never cached, including
// permanent failures that a retrying inner source reports as an empty
// answer; a lookup that succeeded with no candidates is. Cache read or write failures are
// logged and fall through to the inner source.
//
// When inner also implements papersources.DOIResolver, so does the result.
func Wrap(inner papersources.Source, store *Store, opts ...Option) papersources.Source {
	c := &cachedSource{
		inner:    inner,
		store:    store,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if resolver, ok := inner.(papersources.DOIResolver); ok {
		return &cachedResolver{cachedSource: c, resolver: resolver}
	}
	return c
}

type cachedSource struct {
	inner    papersources.Source
	store    *Store
	logger   zerolog.Logger
	recorder Recorder
}

var _ papersources.Source = (*cachedSource)(nil)

func (c *cachedSource) SourceType() domain.SourceType { return c.inner.SourceType() }
func (c *cachedSource) Name() string                  { return c.inner.Name() }
func (c *cachedSource) IsEnabled() bool               { return c.inner.IsEnabled() }

// Unwrap returns the wrapped source.
func (c *cachedSource) Unwrap() papersources.Source { return c.inner }

// Query answers from the cache when possible.
func (c *cachedSource) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	key := QueryKey(ref)
	if records, ok := c.lookup(ctx, papersources.OpQuery, key); ok {
		return papersources.FromSlice(records), nil
	}

	candidates, err := c.inner.Query(ctx, ref)
	if err != nil {
		return nil, err
	}
	if papersources.FailureOf(candidates) != nil {
		return candidates, nil
	}
	records := papersources.Collect(candidates)
	c.save(ctx, papersources.OpQuery, key, records)
	return papersources.FromSlice(records), nil
}

type cachedResolver struct {
	*cachedSource
	resolver papersources.DOIResolver
}

var _ papersources.DOIResolver = (*cachedResolver)(nil)

// QueryByDOI answers from the cache when possible. Unresolvable DOIs are
// cached as empty entries and reported as domain.ErrNotFound.
func (c *cachedResolver) QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
	key := matching.NormalizeDOI(doi)
	if records, ok := c.lookup(ctx, papersources.OpQueryByDOI, key); ok {
		if len(records) == 0 {
			return nil, domain.NewNotFoundError("doi", key)
		}
		rec := records[0]
		return &rec, nil
	}

	rec, err := c.resolver.QueryByDOI(ctx, doi)
	switch {
	case err == nil && rec != nil:
		c.save(ctx, papersources.OpQueryByDOI, key, []domain.CandidateRecord{*rec})
		return rec, nil
	case errors.Is(err, domain.ErrPermanent):
		return nil, err
	case err == nil, errors.Is(err, domain.ErrNotFound):
		c.save(ctx, papersources.OpQueryByDOI, key, nil)
		if err == nil {
			err = domain.NewNotFoundError("doi", key)
		}
		return nil, err
	default:
		return nil, err
	}
}

func (c *cachedSource) lookup(ctx context.Context, op, key string) ([]domain.CandidateRecord, bool) {
	source := string(c.inner.SourceType())
	if key == "" {
		c.recorder.RecordCacheMiss(source)
		return nil, false
	}
	records, ok, err := c.store.Get(ctx, c.inner.SourceType(), op, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("source", source).Str("operation", op).Msg("cache read failed")
	}
	if !ok {
		c.recorder.RecordCacheMiss(source)
		return nil, false
	}
	c.recorder.RecordCacheHit(source)
	return records, true
}

func (c *cachedSource) save(ctx context.Context, op, key string, records []domain.CandidateRecord) {
	if key == "" || ctx.Err() != nil {
		return
	}
	if err := c.store.Put(ctx, c.inner.SourceType(), op, key, records); err != nil {
		c.logger.Warn().Err(err).Str("source", string(c.inner.SourceType())).Str("operation", op).Msg("cache write failed")
	}
}

// QueryKey derives the cache key of a reference lookup from the fields the
// sources query with, including an arXiv identifier cited in the raw text.
func QueryKey(ref domain.ReferenceEntry) string {
	title := matching.NormalizeTitle(ref.Title)
	url := matching.NormalizeURL(ref.URL)
	arxivID := ref.ArXivID()
	if title == "" && url == "" && arxivID == "" {
		return ""
	}

	authors := make([]string, 0, len(ref.Authors))
	for _, a := range ref.Authors {
		if n := matching.NormalizeName(a); n != "" {
			authors = append(authors, n)
		}
	}
	return strings.Join([]string{title, strings.Join(authors, ";"), url, arxivID}, "|")
}
