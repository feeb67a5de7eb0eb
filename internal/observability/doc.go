// Package observability provides logging, metrics, and context helpers for
// the citation verification service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for verification runs, references, sources, and the lookup cache
//   - Context helpers for propagating request and run identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("run_id", runID).Msg("verification started")
//
// Add run, reference, and source context to a logger:
//
//	logger = observability.WithRunContext(logger, runID)
//	logger = observability.WithReferenceContext(logger, index, ref.Title)
//	logger = observability.WithSourceContext(logger, "crossref")
//
// # Metrics
//
// Initialize metrics once per process (promauto registers globally):
//
//	metrics := observability.NewMetrics("citeverify")
//
// Record metrics:
//
//	metrics.RecordVerificationStarted()
//	metrics.RecordSourceRequest("crossref", "query_by_doi", 0.42)
//	metrics.RecordReference("validated", 1.3)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - run_id: Verification run identifier
//   - ref_index: Position of the reference in the input batch
//   - ref_title: Reference title (truncated)
//   - source: Bibliographic source (crossref, google_scholar, arxiv, google_search)
//   - operation: Source operation (query, query_by_doi)
//   - status: Final verification status
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
