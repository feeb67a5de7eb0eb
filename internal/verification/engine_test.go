package verification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/matching"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

// fakeSource is a scripted Source and DOIResolver that counts calls.
type fakeSource struct {
	sourceType domain.SourceType
	enabled    bool

	queryFunc func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error)
	doiFunc   func(ctx context.Context, doi string) (*domain.CandidateRecord, error)

	queryCalls atomic.Int32
	doiCalls   atomic.Int32
}

func newFake(sourceType domain.SourceType, records ...domain.CandidateRecord) *fakeSource {
	return &fakeSource{
		sourceType: sourceType,
		enabled:    true,
		queryFunc:  returning(records...),
	}
}

func returning(records ...domain.CandidateRecord) func(context.Context, domain.ReferenceEntry) (papersources.Candidates, error) {
	return func(context.Context, domain.ReferenceEntry) (papersources.Candidates, error) {
		return papersources.FromSlice(records), nil
	}
}

func failing(err error) func(context.Context, domain.ReferenceEntry) (papersources.Candidates, error) {
	return func(context.Context, domain.ReferenceEntry) (papersources.Candidates, error) {
		return nil, err
	}
}

func (f *fakeSource) Query(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
	f.queryCalls.Add(1)
	if f.queryFunc == nil {
		return papersources.NoCandidates(), nil
	}
	return f.queryFunc(ctx, ref)
}

func (f *fakeSource) QueryByDOI(ctx context.Context, doi string) (*domain.CandidateRecord, error) {
	f.doiCalls.Add(1)
	if f.doiFunc == nil {
		return nil, domain.NewNotFoundError("doi", doi)
	}
	return f.doiFunc(ctx, doi)
}

func (f *fakeSource) SourceType() domain.SourceType { return f.sourceType }
func (f *fakeSource) Name() string                  { return f.sourceType.DisplayName() }
func (f *fakeSource) IsEnabled() bool               { return f.enabled }

func (f *fakeSource) calls() int { return int(f.queryCalls.Load() + f.doiCalls.Load()) }

// testSources bundles the fakes behind an engine.
type testSources struct {
	crossref *fakeSource
	scholar  *fakeSource
	arxiv    *fakeSource
	web      *fakeSource
}

func newTestSources() *testSources {
	return &testSources{
		crossref: newFake(domain.SourceTypeCrossref),
		scholar:  newFake(domain.SourceTypeGoogleScholar),
		arxiv:    newFake(domain.SourceTypeArXiv),
		web:      newFake(domain.SourceTypeGoogleSearch),
	}
}

func (s *testSources) engine() *Engine {
	return s.engineWith(s.crossref)
}

// engineWith builds an engine whose Crossref slot is served by crossref,
// which may be a wrapped version of s.crossref.
func (s *testSources) engineWith(crossref papersources.Source) *Engine {
	doi, _ := crossref.(DOISource)
	return NewEngine(Sources{
		DOI:           doi,
		Bibliographic: []papersources.Source{crossref, s.scholar, s.arxiv},
		Web:           s.web,
	}, matching.DefaultConfig(), DefaultOptions())
}

func (s *testSources) totalCalls() int {
	return s.crossref.calls() + s.scholar.calls() + s.arxiv.calls() + s.web.calls()
}

func resolvesTo(rec domain.CandidateRecord) func(context.Context, string) (*domain.CandidateRecord, error) {
	return func(context.Context, string) (*domain.CandidateRecord, error) {
		r := rec
		return &r, nil
	}
}

var attentionRef = domain.ReferenceEntry{
	Title:   "Attention Is All You Need",
	Authors: []string{"Vaswani"},
	DOI:     "10.5555/abc",
	Type:    domain.ReferenceTypeAcademic,
	RawText: "Vaswani et al. Attention Is All You Need. NeurIPS 2017. doi:10.5555/abc",
}

func TestEngine_DOIValidated(t *testing.T) {
	s := newTestSources()
	s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{
		Title:   "Attention Is All You Need",
		Authors: []string{"A. Vaswani"},
		DOI:     "10.5555/abc",
		Source:  domain.SourceTypeCrossref,
		URL:     "https://doi.org/10.5555/abc",
	})

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusValidated, got.Status)
	require.NotNil(t, got.MatchedSource)
	assert.Equal(t, domain.SourceTypeCrossref, *got.MatchedSource)
	assert.Equal(t, 1.0, got.ScoreValue())
	assert.Equal(t, "DOI resolves and metadata matches (Crossref, score 1.00).", got.Explanation)
	assert.Equal(t, "https://doi.org/10.5555/abc", got.MatchedURL)
	assert.Equal(t, []domain.SourceType{domain.SourceTypeCrossref}, got.SourcesTried)

	assert.Equal(t, int32(1), s.crossref.doiCalls.Load())
	assert.Zero(t, s.crossref.queryCalls.Load(), "no title search after a DOI match")
	assert.Zero(t, s.scholar.calls())
	assert.Zero(t, s.arxiv.calls())
}

func TestEngine_DOIMismatchIsInvalid(t *testing.T) {
	s := newTestSources()
	s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{
		Title:   "Deep Residual Learning",
		Authors: []string{"Kaiming He"},
		DOI:     "10.5555/abc",
		Source:  domain.SourceTypeCrossref,
	})

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInvalid, got.Status)
	assert.Contains(t, got.Explanation, "DOI resolves to a different work")
	assert.Contains(t, got.Explanation, `DOI 10.5555/abc is registered to "Deep Residual Learning"`)
	assert.Contains(t, got.Explanation, "title similarity")
	assert.Nil(t, got.MatchedSource)
	assert.Equal(t, "Deep Residual Learning", got.MatchedTitle)
	assert.Zero(t, s.scholar.calls())
}

func TestEngine_DOIAuthorMismatchIsInvalid(t *testing.T) {
	s := newTestSources()
	s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{
		Title:   "Attention Is All You Need",
		Authors: []string{"Jane Doe", "John Roe"},
		Source:  domain.SourceTypeCrossref,
	})

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusInvalid, got.Status)
	assert.Contains(t, got.Explanation, "author overlap")
}

func TestEngine_UnresolvedDOIFallsThroughToSearch(t *testing.T) {
	s := newTestSources()
	s.scholar.queryFunc = returning(domain.CandidateRecord{
		Title:   "Attention is all you need",
		Authors: []string{"A Vaswani", "N Shazeer"},
		Source:  domain.SourceTypeGoogleScholar,
		URL:     "https://papers.nips.cc/attention",
	})

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusValidated, got.Status)
	require.NotNil(t, got.MatchedSource)
	assert.Equal(t, domain.SourceTypeGoogleScholar, *got.MatchedSource)
	assert.Equal(t, "Title and authors match Google Scholar record (score 1.00).", got.Explanation)
	assert.Equal(t, []domain.SourceType{domain.SourceTypeCrossref, domain.SourceTypeGoogleScholar}, got.SourcesTried)

	assert.Equal(t, int32(1), s.crossref.doiCalls.Load())
	assert.Equal(t, int32(1), s.crossref.queryCalls.Load())
	assert.Equal(t, int32(1), s.scholar.queryCalls.Load())
	assert.Zero(t, s.arxiv.calls(), "search stops at the first accepted match")
}

func TestEngine_TitlelessDOIRecordFallsThroughToSearch(t *testing.T) {
	t.Run("validated by search", func(t *testing.T) {
		s := newTestSources()
		s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{
			DOI:    "10.5555/abc",
			Source: domain.SourceTypeCrossref,
		})
		s.scholar.queryFunc = returning(domain.CandidateRecord{
			Title:   "Attention is all you need",
			Authors: []string{"A Vaswani"},
			Source:  domain.SourceTypeGoogleScholar,
		})

		got, err := s.engine().Verify(context.Background(), attentionRef)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusValidated, got.Status)
		require.NotNil(t, got.MatchedSource)
		assert.Equal(t, domain.SourceTypeGoogleScholar, *got.MatchedSource)
		assert.NotContains(t, got.Explanation, "different work")
		assert.Equal(t, int32(1), s.scholar.queryCalls.Load())
	})

	t.Run("not found explains the empty record", func(t *testing.T) {
		s := newTestSources()
		s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{
			Title:  "  ",
			DOI:    "10.5555/abc",
			Source: domain.SourceTypeCrossref,
		})

		got, err := s.engine().Verify(context.Background(), attentionRef)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Contains(t, got.Explanation, "DOI 10.5555/abc resolves but Crossref lists no title to compare.")
		assert.NotContains(t, got.Explanation, `registered to ""`)
	})
}

func TestEngine_NotFoundNamesAllSources(t *testing.T) {
	s := newTestSources()
	ref := domain.ReferenceEntry{
		Title:   "Xyzzy Nonexistent Paper 2099",
		RawText: "Xyzzy Nonexistent Paper 2099",
	}

	got, err := s.engine().Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotFound, got.Status)
	assert.Equal(t, "No matching record above threshold in Crossref, Google Scholar, arXiv.", got.Explanation)
	assert.Nil(t, got.MatchedSource)
	assert.Nil(t, got.Score)

	assert.Zero(t, s.crossref.doiCalls.Load(), "no DOI, no DOI check")
	assert.Equal(t, int32(1), s.crossref.queryCalls.Load())
	assert.Equal(t, int32(1), s.scholar.queryCalls.Load())
	assert.Equal(t, int32(1), s.arxiv.queryCalls.Load())
	assert.Zero(t, s.web.calls())
}

func TestEngine_NotFoundMentionsUnresolvedDOI(t *testing.T) {
	s := newTestSources()

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotFound, got.Status)
	assert.Equal(t,
		"No matching record above threshold in Crossref, Google Scholar, arXiv. DOI 10.5555/abc did not resolve.",
		got.Explanation)
}

func TestEngine_SkipsUnverifiableWithoutCallingSources(t *testing.T) {
	for _, typ := range []domain.ReferenceType{domain.ReferenceTypeAcademic, domain.ReferenceTypeWebsite, domain.ReferenceTypeOther} {
		t.Run(string(typ), func(t *testing.T) {
			s := newTestSources()
			got, err := s.engine().Verify(context.Background(), domain.ReferenceEntry{
				Authors: []string{"Somebody"},
				URL:     "https://example.com",
				Type:    typ,
				RawText: "Somebody. 2020.",
			})
			require.NoError(t, err)

			assert.Equal(t, domain.StatusSkipped, got.Status)
			assert.Equal(t, ExplanationSkipped, got.Explanation)
			assert.Zero(t, s.totalCalls())
		})
	}
}

func TestEngine_TransientFailuresAreRetriedTransparently(t *testing.T) {
	s := newTestSources()
	var attempts atomic.Int32
	s.crossref.queryFunc = func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
		if attempts.Add(1) <= 2 {
			return nil, domain.NewTransientSourceError("crossref", papersources.OpQuery, errors.New("connection reset"))
		}
		return papersources.FromSlice([]domain.CandidateRecord{{
			Title:   "Attention Is All You Need",
			Authors: []string{"Ashish Vaswani"},
			DOI:     "10.5555/abc",
			Source:  domain.SourceTypeCrossref,
		}}), nil
	}

	crossref := papersources.Retrying(s.crossref, fastPolicy())
	ref := attentionRef
	ref.DOI = ""

	got, err := s.engineWith(crossref).Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusValidated, got.Status)
	require.NotNil(t, got.MatchedSource)
	assert.Equal(t, domain.SourceTypeCrossref, *got.MatchedSource)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Zero(t, s.scholar.calls())
}

func TestEngine_UnavailableSourceIsDemoted(t *testing.T) {
	s := newTestSources()
	s.crossref.queryFunc = failing(domain.NewTransientSourceError("crossref", papersources.OpQuery, errors.New("503")))
	crossref := papersources.Retrying(s.crossref, fastPolicy())

	ref := domain.ReferenceEntry{Title: "Xyzzy Nonexistent Paper 2099", RawText: "raw"}
	got, err := s.engineWith(crossref).Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotFound, got.Status)
	assert.Equal(t,
		"No matching record above threshold in Crossref, Google Scholar, arXiv (unavailable: Crossref).",
		got.Explanation)
	assert.Equal(t, int32(3), s.crossref.queryCalls.Load())
	assert.Equal(t, int32(1), s.scholar.queryCalls.Load(), "search continues past an unavailable source")
	assert.Equal(t, int32(1), s.arxiv.queryCalls.Load())
}

func TestEngine_DOILookupUnavailable(t *testing.T) {
	s := newTestSources()
	s.crossref.doiFunc = func(context.Context, string) (*domain.CandidateRecord, error) {
		return nil, domain.ErrServiceUnavailable
	}

	got, err := s.engine().Verify(context.Background(), attentionRef)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotFound, got.Status)
	assert.Contains(t, got.Explanation, "DOI 10.5555/abc could not be checked (Crossref unavailable).")
}

func TestEngine_PermanentFailureIsEmpty(t *testing.T) {
	s := newTestSources()
	s.scholar.queryFunc = failing(domain.NewPermanentSourceError("google_scholar", papersources.OpQuery, "bad query", nil))
	scholar := papersources.Retrying(s.scholar, fastPolicy())

	engine := NewEngine(Sources{
		DOI:           s.crossref,
		Bibliographic: []papersources.Source{s.crossref, scholar, s.arxiv},
	}, matching.DefaultConfig(), DefaultOptions())

	got, err := engine.Verify(context.Background(), domain.ReferenceEntry{Title: "Some Paper", RawText: "raw"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotFound, got.Status)
	assert.NotContains(t, got.Explanation, "unavailable")
	assert.Equal(t, int32(1), s.scholar.queryCalls.Load(), "permanent failures are not retried")
}

func TestEngine_DOIOnlyReference(t *testing.T) {
	t.Run("resolving DOI validates", func(t *testing.T) {
		s := newTestSources()
		s.crossref.doiFunc = resolvesTo(domain.CandidateRecord{Title: "Some Work", Source: domain.SourceTypeCrossref})

		got, err := s.engine().Verify(context.Background(), domain.ReferenceEntry{DOI: "10.1/x", RawText: "doi:10.1/x"})
		require.NoError(t, err)

		assert.Equal(t, domain.StatusValidated, got.Status)
		assert.Equal(t, "DOI resolves; reference has no title to compare (Crossref).", got.Explanation)
		assert.Equal(t, "Some Work", got.MatchedTitle)
		assert.Zero(t, s.crossref.queryCalls.Load())
	})

	t.Run("unresolved DOI is not found", func(t *testing.T) {
		s := newTestSources()

		got, err := s.engine().Verify(context.Background(), domain.ReferenceEntry{DOI: "10.1/x", RawText: "doi:10.1/x"})
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Equal(t, "DOI 10.1/x did not resolve. Reference has no title to search with.", got.Explanation)
		assert.Equal(t, int32(1), s.crossref.doiCalls.Load())
		assert.Zero(t, s.crossref.queryCalls.Load()+s.scholar.queryCalls.Load()+s.arxiv.queryCalls.Load())
	})
}

func TestEngine_WebsitePath(t *testing.T) {
	ref := domain.ReferenceEntry{
		Title:   "The Go Programming Language Specification",
		URL:     "https://go.dev/ref/spec",
		DOI:     "10.1/ignored",
		Type:    domain.ReferenceTypeWebsite,
		RawText: "The Go Programming Language Specification. https://go.dev/ref/spec",
	}

	t.Run("page title match", func(t *testing.T) {
		s := newTestSources()
		s.web.queryFunc = returning(domain.CandidateRecord{
			Title:  "The Go Programming Language Specification - The Go Programming Language",
			Source: domain.SourceTypeGoogleSearch,
		})

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusValidated, got.Status)
		require.NotNil(t, got.MatchedSource)
		assert.Equal(t, domain.SourceTypeGoogleSearch, *got.MatchedSource)
		assert.Contains(t, got.Explanation, "Web page title matches reference (score ")
		assert.Equal(t, ref.URL, got.MatchedURL)
		assert.Zero(t, s.crossref.calls()+s.scholar.calls()+s.arxiv.calls(), "bibliographic sources are skipped")
	})

	t.Run("search result with same URL", func(t *testing.T) {
		s := newTestSources()
		s.web.queryFunc = returning(domain.CandidateRecord{
			Title:  "Something else entirely",
			URL:    "http://www.go.dev/ref/spec/",
			Source: domain.SourceTypeGoogleSearch,
		})

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusValidated, got.Status)
		assert.Equal(t, "Search result matches reference (Google Search, score 1.00).", got.Explanation)
	})

	t.Run("no match", func(t *testing.T) {
		s := newTestSources()
		s.web.queryFunc = returning(domain.CandidateRecord{Title: "Qwxz 123", URL: "https://food.example", Source: domain.SourceTypeGoogleSearch})

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Equal(t, "No web page or search result matched the reference title or URL.", got.Explanation)
	})

	t.Run("search unavailable", func(t *testing.T) {
		s := newTestSources()
		s.web.queryFunc = failing(domain.ErrServiceUnavailable)

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Equal(t, "No web page or search result matched the reference title or URL (unavailable: Google Search).", got.Explanation)
	})

	t.Run("web search disabled", func(t *testing.T) {
		s := newTestSources()
		s.web.enabled = false

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Zero(t, s.totalCalls())
	})
}

func TestEngine_PreprintHintQueriesArXivFirst(t *testing.T) {
	rec := func(src domain.SourceType) domain.CandidateRecord {
		return domain.CandidateRecord{Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Source: src}
	}
	ref := domain.ReferenceEntry{
		Title:   "Attention Is All You Need",
		Authors: []string{"Vaswani"},
		RawText: "Vaswani et al. Attention Is All You Need. arXiv preprint arXiv:1706.03762, 2017.",
	}

	t.Run("hint enabled", func(t *testing.T) {
		s := newTestSources()
		s.scholar.queryFunc = returning(rec(domain.SourceTypeGoogleScholar))
		s.arxiv.queryFunc = returning(rec(domain.SourceTypeArXiv))

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		require.NotNil(t, got.MatchedSource)
		assert.Equal(t, domain.SourceTypeArXiv, *got.MatchedSource)
		assert.Zero(t, s.scholar.calls())
		assert.Equal(t, []domain.SourceType{domain.SourceTypeCrossref, domain.SourceTypeArXiv}, got.SourcesTried)
	})

	t.Run("hint disabled", func(t *testing.T) {
		s := newTestSources()
		s.scholar.queryFunc = returning(rec(domain.SourceTypeGoogleScholar))
		s.arxiv.queryFunc = returning(rec(domain.SourceTypeArXiv))

		opts := DefaultOptions()
		opts.PreprintHint = false
		engine := NewEngine(Sources{
			DOI:           s.crossref,
			Bibliographic: []papersources.Source{s.crossref, s.scholar, s.arxiv},
		}, matching.DefaultConfig(), opts)

		got, err := engine.Verify(context.Background(), ref)
		require.NoError(t, err)

		require.NotNil(t, got.MatchedSource)
		assert.Equal(t, domain.SourceTypeGoogleScholar, *got.MatchedSource)
		assert.Zero(t, s.arxiv.calls())
	})
}

func TestEngine_WorkshopHintConsultsWebSearch(t *testing.T) {
	ref := domain.ReferenceEntry{
		Title:   "Learning Sparse Graph Embeddings",
		RawText: "Doe, J. Learning Sparse Graph Embeddings. In Proceedings of the Workshop on Graph Learning, 2021.",
	}

	t.Run("workshop paper found on the web", func(t *testing.T) {
		s := newTestSources()
		s.web.queryFunc = returning(domain.CandidateRecord{
			Title:  "Learning Sparse Graph Embeddings",
			URL:    "https://graphworkshop.example/papers/12.pdf",
			Source: domain.SourceTypeGoogleSearch,
		})

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusValidated, got.Status)
		require.NotNil(t, got.MatchedSource)
		assert.Equal(t, domain.SourceTypeGoogleSearch, *got.MatchedSource)
		assert.Equal(t, "Title matches Google Search result (score 1.00).", got.Explanation)
	})

	t.Run("workshop paper not found names web search", func(t *testing.T) {
		s := newTestSources()

		got, err := s.engine().Verify(context.Background(), ref)
		require.NoError(t, err)

		assert.Equal(t, domain.StatusNotFound, got.Status)
		assert.Equal(t, "No matching record above threshold in Crossref, Google Scholar, arXiv, Google Search.", got.Explanation)
	})

	t.Run("journal paper does not use web search", func(t *testing.T) {
		s := newTestSources()
		journal := ref
		journal.RawText = "Doe, J. Learning Sparse Graph Embeddings. Journal of Graphs, 2021."

		_, err := s.engine().Verify(context.Background(), journal)
		require.NoError(t, err)
		assert.Zero(t, s.web.calls())
	})
}

func TestEngine_DisabledSourcesAreNotQueried(t *testing.T) {
	s := newTestSources()
	s.scholar.enabled = false

	got, err := s.engine().Verify(context.Background(), domain.ReferenceEntry{Title: "Some Paper", RawText: "raw"})
	require.NoError(t, err)

	assert.Equal(t, "No matching record above threshold in Crossref, arXiv.", got.Explanation)
	assert.Zero(t, s.scholar.calls())
}

func TestEngine_Cancellation(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		s := newTestSources()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.engine().Verify(ctx, attentionRef)
		assert.ErrorIs(t, err, domain.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, s.totalCalls())
	})

	t.Run("cancelled during a source call", func(t *testing.T) {
		s := newTestSources()
		ctx, cancel := context.WithCancel(context.Background())
		s.crossref.queryFunc = func(ctx context.Context, ref domain.ReferenceEntry) (papersources.Candidates, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}

		_, err := s.engine().Verify(ctx, domain.ReferenceEntry{Title: "Some Paper", RawText: "raw"})
		assert.ErrorIs(t, err, domain.ErrCancelled)
		assert.Zero(t, s.scholar.calls(), "no further sources after cancellation")
	})
}

func TestEngine_Deterministic(t *testing.T) {
	s := newTestSources()
	s.crossref.queryFunc = returning(
		domain.CandidateRecord{Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Source: domain.SourceTypeCrossref, URL: "a"},
		domain.CandidateRecord{Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}, Source: domain.SourceTypeCrossref, URL: "b"},
	)
	engine := s.engine()
	ref := attentionRef
	ref.DOI = ""

	first, err := engine.Verify(context.Background(), ref)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Verify(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a", first.MatchedURL, "ties go to the earlier candidate")
}

func fastPolicy() papersources.RetryPolicy {
	return papersources.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      time.Second,
		Jitter:          0,
	}
}
