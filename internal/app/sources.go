// Package app assembles the verification engine from configuration. It is
// shared by the HTTP server and the command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/citation-verification-service/internal/config"
	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/observability"
	"github.com/helixir/citation-verification-service/internal/papersources"
	"github.com/helixir/citation-verification-service/internal/papersources/arxiv"
	"github.com/helixir/citation-verification-service/internal/papersources/cache"
	"github.com/helixir/citation-verification-service/internal/papersources/crossref"
	"github.com/helixir/citation-verification-service/internal/papersources/scholar"
	"github.com/helixir/citation-verification-service/internal/papersources/websearch"
	"github.com/helixir/citation-verification-service/internal/verification"
)

// bibliographicOrder is the title search order for academic references.
var bibliographicOrder = []domain.SourceType{
	domain.SourceTypeCrossref,
	domain.SourceTypeGoogleScholar,
	domain.SourceTypeArXiv,
}

// Engine bundles the verification engine with the resources it holds.
type Engine struct {
	*verification.Engine

	// Registry holds every configured source, wrapped with retry and cache.
	Registry *papersources.Registry

	store *cache.Store
}

// Close releases the lookup cache, if one was opened.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// NewEngine builds the sources described by cfg and an engine over them.
// metrics may be nil.
func NewEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Engine, error) {
	var store *cache.Store
	if cfg.Cache.Enabled {
		s, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("open lookup cache: %w", err)
		}
		store = s
		logger.Info().Str("path", cfg.Cache.Path).Dur("ttl", cfg.Cache.TTL).Msg("lookup cache enabled")
	}

	registry, err := NewRegistry(ctx, cfg, logger, metrics, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	opts := verification.DefaultOptions()
	opts.Logger = logger
	opts.PreprintHint = cfg.Verification.PreprintHint
	opts.WorkshopHint = cfg.Verification.WorkshopHint

	return &Engine{
		Engine:   verification.NewEngine(EngineSources(registry), cfg.MatchingConfig(), opts),
		Registry: registry,
		store:    store,
	}, nil
}

// NewRegistry creates and registers every enabled source. Each source is
// wrapped with the configured retry policy and, when store is not nil, the
// lookup cache in front of it.
func NewRegistry(
	ctx context.Context,
	cfg *config.Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	store *cache.Store,
) (*papersources.Registry, error) {
	registry := papersources.NewRegistry()
	policy := cfg.VerificationConfig().RetryPolicy()

	wrap := func(src papersources.Source) papersources.Source {
		retryOpts := []papersources.RetryOption{papersources.WithRetryLogger(logger)}
		if metrics != nil {
			retryOpts = append(retryOpts, papersources.WithRetryMetrics(metrics))
		}
		wrapped := papersources.Retrying(src, policy, retryOpts...)
		if store == nil {
			return wrapped
		}
		cacheOpts := []cache.Option{cache.WithLogger(logger)}
		if metrics != nil {
			cacheOpts = append(cacheOpts, cache.WithMetrics(metrics))
		}
		return cache.Wrap(wrapped, store, cacheOpts...)
	}

	src := cfg.Sources

	if src.Crossref.Enabled {
		registry.Register(wrap(crossref.New(crossref.Config{
			BaseURL:    src.Crossref.BaseURL,
			Mailto:     src.Crossref.Mailto,
			Timeout:    src.Crossref.Timeout,
			RateLimit:  src.Crossref.RateLimit,
			MaxResults: src.Crossref.MaxResults,
			Enabled:    true,
		})))
		logger.Info().Msg("registered source: Crossref")
	}

	if src.Scholar.Enabled {
		registry.Register(wrap(scholar.New(scholar.Config{
			BaseURL:     src.Scholar.BaseURL,
			MinInterval: src.Scholar.MinInterval,
			Timeout:     src.Scholar.Timeout,
			MaxResults:  src.Scholar.MaxResults,
			Enabled:     true,
		})))
		logger.Info().Msg("registered source: Google Scholar")
	}

	if src.ArXiv.Enabled {
		registry.Register(wrap(arxiv.New(arxiv.Config{
			BaseURL:     src.ArXiv.BaseURL,
			Timeout:     src.ArXiv.Timeout,
			MinInterval: src.ArXiv.MinInterval,
			RateLimit:   src.ArXiv.RateLimit,
			MaxResults:  src.ArXiv.MaxResults,
			Enabled:    true,
		})))
		logger.Info().Msg("registered source: arXiv")
	}

	if src.GoogleSearch.Enabled {
		gs := src.GoogleSearch
		client, err := websearch.New(ctx, websearch.Config{
			APIKey:      gs.APIKey,
			EngineID:    gs.EngineID,
			Endpoint:    gs.BaseURL,
			Timeout:     gs.Timeout,
			PageTimeout: gs.PageTimeout,
			RateLimit:   gs.RateLimit,
			MaxResults:  gs.MaxResults,
			FetchPage:   gs.FetchPage,
			Enabled:     true,
		})
		if err != nil {
			return nil, fmt.Errorf("create google search client: %w", err)
		}
		registry.Register(wrap(client))
		logger.Info().
			Bool("search_api", gs.APIKey != "" && gs.EngineID != "").
			Bool("fetch_page", gs.FetchPage).
			Msg("registered source: Google Search")
	}

	return registry, nil
}

// EngineSources picks the engine's DOI, bibliographic and web sources out of
// the registry.
func EngineSources(registry *papersources.Registry) verification.Sources {
	var sources verification.Sources
	if s, ok := registry.Enabled(domain.SourceTypeCrossref); ok {
		if doi, ok := s.(verification.DOISource); ok {
			sources.DOI = doi
		}
	}
	sources.Bibliographic = registry.Select(bibliographicOrder...)
	if s, ok := registry.Enabled(domain.SourceTypeGoogleSearch); ok {
		sources.Web = s
	}
	return sources
}
