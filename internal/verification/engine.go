// Package verification classifies reference entries against external
// bibliographic sources.
//
// Each reference walks a small state machine: a DOI check against the DOI
// resolver, then a title search over the bibliographic sources in a fixed
// order, stopping at the first accepted match. Website and other
// non-academic references go to the web search source instead. The engine
// never fails a reference because a source failed: an unavailable source is
// named in the explanation and the search moves on.
package verification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/matching"
	"github.com/helixir/citation-verification-service/internal/observability"
	"github.com/helixir/citation-verification-service/internal/papersources"
)

// Explanations that carry no per-reference detail.
const (
	ExplanationSkipped   = "Reference has neither title nor DOI; nothing to verify."
	ExplanationCancelled = "Verification cancelled before this reference was checked."
	explanationNoWebHit  = "No web page or search result matched the reference title or URL."
)

var (
	preprintHint = regexp.MustCompile(`(?i)\b(arxiv|preprint)\b`)
	workshopHint = regexp.MustCompile(`(?i)\b(workshop|symposium|proceedings|proc\.)`)
)

// DOISource is a source that can also resolve DOIs.
type DOISource interface {
	papersources.Source
	papersources.DOIResolver
}

// Sources names the sources the engine consults.
type Sources struct {
	// DOI resolves DOIs in the DoiCheck state. Usually Crossref.
	DOI DOISource

	// Bibliographic are searched by title in this order.
	Bibliographic []papersources.Source

	// Web serves website references and the workshop fallback.
	Web papersources.Source
}

// Options tunes engine behaviour beyond the matching thresholds.
type Options struct {
	// Logger receives per-reference debug and result logs.
	Logger zerolog.Logger

	// PreprintHint moves arXiv ahead of Google Scholar when the raw text
	// mentions arXiv or a preprint.
	PreprintHint bool

	// WorkshopHint consults web search before giving up on a reference whose
	// raw text names a workshop, symposium or proceedings.
	WorkshopHint bool
}

// DefaultOptions returns options with both search hints enabled and logging off.
func DefaultOptions() Options {
	return Options{
		Logger:       zerolog.Nop(),
		PreprintHint: true,
		WorkshopHint: true,
	}
}

// Engine verifies single references. It is safe for concurrent use; all
// shared state lives in the sources and their rate limiters.
type Engine struct {
	sources Sources
	matcher *matching.Matcher
	opts    Options
}

// NewEngine creates an engine over the given sources and thresholds.
func NewEngine(sources Sources, cfg matching.Config, opts Options) *Engine {
	return &Engine{
		sources: sources,
		matcher: matching.NewMatcher(cfg),
		opts:    opts,
	}
}

// attempt accumulates what happened while verifying one reference; it
// feeds the explanation of a negative result.
type attempt struct {
	ref         domain.ReferenceEntry
	tried       []domain.SourceType
	unavailable []string
	doiNote     string
}

func (a *attempt) markTried(src domain.SourceType) {
	for _, t := range a.tried {
		if t == src {
			return
		}
	}
	a.tried = append(a.tried, src)
}

func (a *attempt) markUnavailable(name string) {
	for _, u := range a.unavailable {
		if u == name {
			return
		}
	}
	a.unavailable = append(a.unavailable, name)
}

// Verify classifies one reference. It returns an error only when ctx is
// cancelled before a conclusive result; the error matches domain.ErrCancelled.
func (e *Engine) Verify(ctx context.Context, ref domain.ReferenceEntry) (domain.VerificationResult, error) {
	ref = ref.Normalized()
	logger := e.referenceLogger(ctx, ref)

	if err := ctx.Err(); err != nil {
		return domain.VerificationResult{}, cancelled(err)
	}

	if !ref.IsVerifiable() {
		logger.Debug().Err(&domain.MalformedReferenceError{RawText: ref.RawText}).Msg("skipping reference")
		return domain.Skipped(ExplanationSkipped), nil
	}

	a := &attempt{ref: ref}
	var (
		result domain.VerificationResult
		err    error
	)
	if ref.Type.IsBibliographic() {
		result, err = e.verifyAcademic(ctx, a, logger)
	} else {
		result, err = e.verifyWebsite(ctx, a, logger)
	}
	if err != nil {
		return domain.VerificationResult{}, err
	}

	result.SourcesTried = a.tried
	logger.Info().
		Str("status", string(result.Status)).
		Str("matched_source", result.SourceName()).
		Float64("score", result.ScoreValue()).
		Msg("reference verified")
	return result, nil
}

// verifyAcademic runs DoiCheck then SourceSearch.
func (e *Engine) verifyAcademic(ctx context.Context, a *attempt, logger zerolog.Logger) (domain.VerificationResult, error) {
	ref := a.ref

	if ref.HasDOI() && e.sources.DOI != nil && e.sources.DOI.IsEnabled() {
		result, decided, err := e.checkDOI(ctx, a, logger)
		if err != nil || decided {
			return result, err
		}
	}

	if !ref.HasTitle() {
		note := a.doiNote
		if note == "" {
			note = fmt.Sprintf("DOI %s could not be checked.", ref.DOI)
		}
		return domain.NotFound(note + " Reference has no title to search with."), nil
	}

	result, found, err := e.searchBibliographic(ctx, a, logger)
	if err != nil || found {
		return result, err
	}

	if e.opts.WorkshopHint && workshopHint.MatchString(ref.RawText) && e.webEnabled() {
		result, found, err := e.searchWebBibliographic(ctx, a, logger)
		if err != nil || found {
			return result, err
		}
	}

	return domain.NotFound(notFoundExplanation(a)), nil
}

// checkDOI resolves the reference's DOI. decided is false when the DOI did
// not resolve or could not be checked, in which case the search continues.
func (e *Engine) checkDOI(ctx context.Context, a *attempt, logger zerolog.Logger) (domain.VerificationResult, bool, error) {
	ref := a.ref
	src := e.sources.DOI
	a.markTried(src.SourceType())

	logger.Debug().Str("source", src.Name()).Str("doi", ref.DOI).Msg("resolving DOI")
	rec, err := src.QueryByDOI(ctx, ref.DOI)
	if err == nil && rec == nil {
		err = domain.NewNotFoundError("doi", ref.DOI)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.VerificationResult{}, false, cancelled(ctxErr)
		}
		if errors.Is(err, domain.ErrNotFound) {
			a.doiNote = fmt.Sprintf("DOI %s did not resolve.", ref.DOI)
			logger.Debug().Str("doi", ref.DOI).Msg("DOI did not resolve")
		} else {
			a.doiNote = fmt.Sprintf("DOI %s could not be checked (%s unavailable).", ref.DOI, src.Name())
			logger.Warn().Err(err).Str("source", src.Name()).Msg("DOI lookup failed")
		}
		return domain.VerificationResult{}, false, nil
	}

	if !ref.HasTitle() {
		result := domain.Validated(src.SourceType(), 1.0,
			fmt.Sprintf("DOI resolves; reference has no title to compare (%s).", src.Name()))
		result.MatchedTitle = rec.Title
		result.MatchedURL = rec.URL
		return result, true, nil
	}

	if strings.TrimSpace(rec.Title) == "" {
		a.doiNote = fmt.Sprintf("DOI %s resolves but %s lists no title to compare.", ref.DOI, src.Name())
		logger.Debug().Str("doi", ref.DOI).Msg("DOI record has no title")
		return domain.VerificationResult{}, false, nil
	}

	match, ok := e.matcher.Evaluate(ref, *rec)
	if ok {
		result := domain.Validated(src.SourceType(), match.Score(),
			fmt.Sprintf("DOI resolves and metadata matches (%s, score %.2f).", src.Name(), match.Score()))
		result.MatchedTitle = rec.Title
		result.MatchedURL = rec.URL
		return result, true, nil
	}

	detail := fmt.Sprintf("title similarity %.2f", match.TitleScore)
	if match.TitleScore >= e.matcher.Config().TitleThresholdFor(rec.Source) {
		detail += fmt.Sprintf(", author overlap %.2f", match.AuthorScore)
	}
	result := domain.Invalid(fmt.Sprintf("DOI resolves to a different work: DOI %s is registered to %q (%s).",
		ref.DOI, rec.Title, detail))
	result.MatchedTitle = rec.Title
	result.MatchedURL = rec.URL
	return result, true, nil
}

// searchBibliographic queries the bibliographic sources in order and
// returns the first accepted match.
func (e *Engine) searchBibliographic(ctx context.Context, a *attempt, logger zerolog.Logger) (domain.VerificationResult, bool, error) {
	for _, src := range e.searchOrder(a.ref) {
		a.markTried(src.SourceType())

		match, ok, err := e.querySource(ctx, a, src, logger, e.matcher.MatchBest)
		if err != nil {
			return domain.VerificationResult{}, false, err
		}
		if !ok {
			continue
		}

		var explanation string
		if len(a.ref.Authors) > 0 {
			explanation = fmt.Sprintf("Title and authors match %s record (score %.2f).", src.Name(), match.Score())
		} else {
			explanation = fmt.Sprintf("Title matches %s record (score %.2f).", src.Name(), match.Score())
		}
		return matchedResult(src, match, explanation), true, nil
	}
	return domain.VerificationResult{}, false, nil
}

// searchWebBibliographic looks a workshop paper up on the web, holding it
// to the bibliographic thresholds.
func (e *Engine) searchWebBibliographic(ctx context.Context, a *attempt, logger zerolog.Logger) (domain.VerificationResult, bool, error) {
	src := e.sources.Web
	a.markTried(src.SourceType())

	match, ok, err := e.querySource(ctx, a, src, logger, e.matcher.MatchBest)
	if err != nil || !ok {
		return domain.VerificationResult{}, false, err
	}
	return matchedResult(src, match,
		fmt.Sprintf("Title matches %s result (score %.2f).", src.Name(), match.Score())), true, nil
}

// verifyWebsite runs the GoogleSearch-only path for website and other references.
func (e *Engine) verifyWebsite(ctx context.Context, a *attempt, logger zerolog.Logger) (domain.VerificationResult, error) {
	if !e.webEnabled() {
		return domain.NotFound("No web search source is enabled; " + lowerFirst(explanationNoWebHit)), nil
	}
	src := e.sources.Web
	a.markTried(src.SourceType())

	match, ok, err := e.querySource(ctx, a, src, logger, e.matcher.MatchBestWebsite)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if !ok {
		explanation := explanationNoWebHit
		if len(a.unavailable) > 0 {
			explanation = strings.TrimSuffix(explanation, ".") +
				fmt.Sprintf(" (unavailable: %s).", strings.Join(a.unavailable, ", "))
		}
		return domain.NotFound(explanation), nil
	}

	var explanation string
	if match.Candidate.URL == "" {
		explanation = fmt.Sprintf("Web page title matches reference (score %.2f).", match.Score())
	} else {
		explanation = fmt.Sprintf("Search result matches reference (%s, score %.2f).", src.Name(), match.Score())
	}
	result := matchedResult(src, match, explanation)
	if result.MatchedURL == "" {
		result.MatchedURL = a.ref.URL
	}
	return result, nil
}

type matchFunc func(domain.ReferenceEntry, matching.CandidateIterator) (matching.Match, bool)

// querySource runs one source query. A failing source is recorded as
// unavailable and reported as no match; only cancellation is an error.
func (e *Engine) querySource(
	ctx context.Context,
	a *attempt,
	src papersources.Source,
	logger zerolog.Logger,
	best matchFunc,
) (matching.Match, bool, error) {
	srcLogger := observability.WithSourceContext(logger, src.Name())
	srcLogger.Debug().Msg("querying source")

	candidates, err := src.Query(ctx, a.ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return matching.Match{}, false, cancelled(ctxErr)
		}
		a.markUnavailable(src.Name())
		srcLogger.Warn().Err(err).Msg("source unavailable, continuing")
		return matching.Match{}, false, nil
	}

	match, ok := best(a.ref, candidates)
	srcLogger.Debug().Bool("accepted", ok).Float64("score", match.Score()).Msg("source answered")
	return match, ok, nil
}

// searchOrder returns the enabled bibliographic sources in query order.
func (e *Engine) searchOrder(ref domain.ReferenceEntry) []papersources.Source {
	order := make([]papersources.Source, 0, len(e.sources.Bibliographic))
	for _, src := range e.sources.Bibliographic {
		if src != nil && src.IsEnabled() {
			order = append(order, src)
		}
	}
	if !e.opts.PreprintHint || !preprintHint.MatchString(ref.RawText) {
		return order
	}

	arxivAt, scholarAt := -1, -1
	for i, src := range order {
		switch src.SourceType() {
		case domain.SourceTypeArXiv:
			arxivAt = i
		case domain.SourceTypeGoogleScholar:
			if scholarAt < 0 {
				scholarAt = i
			}
		}
	}
	if arxivAt < 0 || scholarAt < 0 || arxivAt < scholarAt {
		return order
	}

	arxiv := order[arxivAt]
	copy(order[scholarAt+1:arxivAt+1], order[scholarAt:arxivAt])
	order[scholarAt] = arxiv
	return order
}

func (e *Engine) referenceLogger(ctx context.Context, ref domain.ReferenceEntry) zerolog.Logger {
	logger := e.opts.Logger
	if runID := observability.RunIDFromContext(ctx); runID != "" {
		logger = observability.WithRunContext(logger, runID)
	}
	if index, ok := observability.ReferenceIndexFromContext(ctx); ok {
		return observability.WithReferenceContext(logger, index, ref.Title)
	}
	return logger.With().Str("ref_title", ref.Title).Logger()
}

func (e *Engine) webEnabled() bool {
	return e.sources.Web != nil && e.sources.Web.IsEnabled()
}

func matchedResult(src papersources.Source, match matching.Match, explanation string) domain.VerificationResult {
	result := domain.Validated(src.SourceType(), match.Score(), explanation)
	result.MatchedTitle = match.Candidate.Title
	result.MatchedURL = match.Candidate.URL
	return result
}

// notFoundExplanation names every source tried and any that were unavailable.
func notFoundExplanation(a *attempt) string {
	var searched []string
	for _, t := range a.tried {
		searched = append(searched, t.DisplayName())
	}

	var sb strings.Builder
	if len(searched) == 0 {
		sb.WriteString("No bibliographic source is enabled; reference could not be checked")
	} else {
		sb.WriteString("No matching record above threshold in ")
		sb.WriteString(strings.Join(searched, ", "))
	}
	if len(a.unavailable) > 0 {
		fmt.Fprintf(&sb, " (unavailable: %s)", strings.Join(a.unavailable, ", "))
	}
	sb.WriteString(".")
	if a.doiNote != "" {
		sb.WriteString(" ")
		sb.WriteString(a.doiNote)
	}
	return sb.String()
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrCancelled, err)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
