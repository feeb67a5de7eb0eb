package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

type stubSource struct {
	queryFunc func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error)
	doiFunc   func(ctx context.Context, doi string) (*domain.CandidateRecord, error)

	queryCalls atomic.Int32
	doiCalls   atomic.Int32
}

func (s *stubSource) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	s.queryCalls.Add(1)
	return s.queryFunc(ctx, ref)
}

func (s *stubSource) QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
	s.doiCalls.Add(1)
	return s.doiFunc(ctx, doi)
}

func (s *stubSource) SourceType() domain.SourceType { return domain.SourceTypeCrossref }
func (s *stubSource) Name() string                  { return "Crossref" }
func (s *stubSource) IsEnabled() bool               { return true }

type countingRecorder struct {
	hits, misses atomic.Int32
}

func (r *countingRecorder) RecordCacheHit(string)  { r.hits.Add(1) }
func (r *countingRecorder) RecordCacheMiss(string) { r.misses.Add(1) }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var attention = domain.CandidateRecord{
	Title:   "Attention Is All You Need",
	Authors: []string{"Ashish Vaswani"},
	DOI:     "10.5555/attention",
	Source:  domain.SourceTypeCrossref,
}

func TestStore_GetPut(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "k", []domain.CandidateRecord{attention}))
	got, ok, err := store.Get(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []domain.CandidateRecord{attention}, got)

	_, ok, err = store.Get(ctx, domain.SourceTypeArXiv, papersources.OpQuery, "k")
	require.NoError(t, err)
	assert.False(t, ok, "keys are scoped by source")

	require.NoError(t, store.Put(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "empty", nil))
	got, ok, err = store.Get(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestStore_Expiry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "k", []domain.CandidateRecord{attention}))

	now = now.Add(2 * time.Hour)
	_, ok, err := store.Get(ctx, domain.SourceTypeCrossref, papersources.OpQuery, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestWrap_Query(t *testing.T) {
	src := &stubSource{
		queryFunc: func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
			return papersources.FromSlice([]domain.CandidateRecord{attention}), nil
		},
	}
	rec := &countingRecorder{}
	cached := Wrap(src, openTestStore(t), WithMetrics(rec))
	ref := domain.ReferenceEntry{Title: "Attention is all you need", Authors: []string{"Vaswani, A."}, RawText: "raw"}

	for i := 0; i < 3; i++ {
		got, err := cached.Query(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, []domain.CandidateRecord{attention}, papersources.Collect(got))
	}

	assert.Equal(t, int32(1), src.queryCalls.Load())
	assert.Equal(t, int32(2), rec.hits.Load())
	assert.Equal(t, int32(1), rec.misses.Load())

	// Title formatting differences map to the same key.
	_, err := cached.Query(context.Background(), domain.ReferenceEntry{
		Title: "  ATTENTION is all you need. ", Authors: []string{"Vaswani, A."}, RawText: "other",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.queryCalls.Load())
}

func TestWrap_QueryErrorsAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	src := &stubSource{
		queryFunc: func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
			if fail.Load() {
				return nil, domain.ErrServiceUnavailable
			}
			return papersources.NoCandidates(), nil
		},
	}
	cached := Wrap(src, openTestStore(t))
	ref := domain.ReferenceEntry{Title: "Some Title", RawText: "raw"}

	_, err := cached.Query(context.Background(), ref)
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)

	fail.Store(false)
	got, err := cached.Query(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, papersources.Collect(got))
	assert.Equal(t, int32(2), src.queryCalls.Load())
}

func TestWrap_QueryByDOI(t *testing.T) {
	src := &stubSource{
		doiFunc: func(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
			if doi == "10.0000/missing" {
				return nil, domain.NewNotFoundError("doi", doi)
			}
			if doi == "10.0000/down" {
				return nil, domain.ErrServiceUnavailable
			}
			r := attention
			return &r, nil
		},
	}
	cached := Wrap(src, openTestStore(t))
	resolver, ok := cached.(papersources.DOIResolver)
	require.True(t, ok)

	for _, doi := range []string{"10.5555/attention", "https://doi.org/10.5555/ATTENTION"} {
		got, err := resolver.QueryByDOI(context.Background(), doi)
		require.NoError(t, err)
		assert.Equal(t, attention.Title, got.Title)
	}

	for i := 0; i < 2; i++ {
		_, err := resolver.QueryByDOI(context.Background(), "10.0000/missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}

	for i := 0; i < 2; i++ {
		_, err := resolver.QueryByDOI(context.Background(), "10.0000/down")
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
	}

	assert.Equal(t, int32(4), src.doiCalls.Load(), "one call per distinct DOI, failures retried")
}

func TestQueryKey(t *testing.T) {
	assert.Empty(t, QueryKey(domain.ReferenceEntry{RawText: "raw"}))
	assert.Equal(t,
		QueryKey(domain.ReferenceEntry{Title: "Deep Residual Learning"}),
		QueryKey(domain.ReferenceEntry{Title: "deep residual learning!"}))
	assert.NotEqual(t,
		QueryKey(domain.ReferenceEntry{Title: "Deep Residual Learning"}),
		QueryKey(domain.ReferenceEntry{Title: "Deep Residual Learning", Authors: []string{"K. He"}}))
	assert.NotEmpty(t, QueryKey(domain.ReferenceEntry{URL: "https://go.dev/doc"}))
	assert.NotEqual(t,
		QueryKey(domain.ReferenceEntry{Title: "Language Models", RawText: "arXiv:2001.08361"}),
		QueryKey(domain.ReferenceEntry{Title: "Language Models", RawText: "arXiv:2005.14165"}),
		"references citing different arXiv IDs do not share an entry")
	assert.Equal(t,
		QueryKey(domain.ReferenceEntry{Title: "Language Models", RawText: "arXiv:2001.08361v2"}),
		QueryKey(domain.ReferenceEntry{Title: "Language Models", RawText: "https://arxiv.org/abs/2001.08361"}))
}

func TestWrap_PermanentFailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	src := &stubSource{
		queryFunc: func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
			if fail.Load() {
				return nil, domain.NewPermanentSourceError("crossref", papersources.OpQuery, "HTTP 403", nil)
			}
			return papersources.FromSlice([]domain.CandidateRecord{attention}), nil
		},
		doiFunc: func(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
			if fail.Load() {
				return nil, domain.NewPermanentSourceError("crossref", papersources.OpQueryByDOI, "HTTP 400", nil)
			}
			r := attention
			return &r, nil
		},
	}
	retrying := papersources.Retrying(src, papersources.RetryPolicy{MaxAttempts: 1})
	cached := Wrap(retrying, openTestStore(t))
	resolver := cached.(papersources.DOIResolver)
	ref := domain.ReferenceEntry{Title: "Attention Is All You Need", RawText: "raw"}

	got, err := cached.Query(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, papersources.Collect(got))
	_, err = resolver.QueryByDOI(context.Background(), attention.DOI)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	fail.Store(false)
	got, err = cached.Query(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []domain.CandidateRecord{attention}, papersources.Collect(got))
	rec, err := resolver.QueryByDOI(context.Background(), attention.DOI)
	require.NoError(t, err)
	assert.Equal(t, attention.Title, rec.Title)

	assert.Equal(t, int32(2), src.queryCalls.Load())
	assert.Equal(t, int32(2), src.doiCalls.Load())
}
