// Package repository provides persistence for verification runs.
//
// Repositories accept a DBTX so the same implementation works against a
// connection pool or inside a transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    runs := repository.NewPgRunRepository(tx)
//	    if err := runs.SaveResults(ctx, results); err != nil {
//	        return err
//	    }
//	    return runs.Complete(ctx, id, domain.RunStatusCompleted, summary, time.Now())
//	})
//
// Methods return domain errors: domain.ErrNotFound for a missing run,
// domain.ErrAlreadyExists for a duplicate ID and domain.ErrInvalidInput for
// bad arguments.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/database"
	"github.com/helixir/citation-verification-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// RunRepository persists verification runs and their per-reference results.
type RunRepository interface {
	// Create inserts a new run in the running state.
	// Returns domain.ErrAlreadyExists if a run with the same ID exists.
	Create(ctx context.Context, run *domain.VerificationRun) error

	// SaveResults stores per-reference results. Saving the same (run, index)
	// twice overwrites the earlier result.
	SaveResults(ctx context.Context, results []domain.StoredResult) error

	// Complete moves a running run to a terminal status and stores its summary.
	// Returns domain.ErrNotFound if no running run has the ID.
	Complete(ctx context.Context, id uuid.UUID, status domain.RunStatus, summary domain.Summary, completedAt time.Time) error

	// Get retrieves a run by ID.
	// Returns domain.ErrNotFound if no matching run exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.VerificationRun, error)

	// ListResults returns the results of a run ordered by reference index.
	ListResults(ctx context.Context, runID uuid.UUID) ([]domain.StoredResult, error)

	// List returns runs matching the filter, newest first, and the total
	// number of matching runs.
	List(ctx context.Context, filter RunFilter) ([]*domain.VerificationRun, int64, error)
}

// RunFilter selects runs for List.
type RunFilter struct {
	// Status restricts the listing to one status when non-empty.
	Status domain.RunStatus
	// Limit caps the page size (default 50, max 500).
	Limit int
	// Offset skips that many runs.
	Offset int
}

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize applies defaults and bounds.
func (f RunFilter) Normalize() RunFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
