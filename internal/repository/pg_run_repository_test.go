package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citation-verification-service/internal/domain"
)

var runColumnNames = []string{
	"id", "label", "status", "reference_count",
	"count_validated", "count_invalid", "count_not_found", "count_skipped",
	"warnings", "created_at", "completed_at",
}

func newTestRun() *domain.VerificationRun {
	return &domain.VerificationRun{
		ID:             uuid.New(),
		Label:          "thesis.pdf",
		Status:         domain.RunStatusRunning,
		ReferenceCount: 3,
		CreatedAt:      time.Now().UTC(),
	}
}

func newTestResults(runID uuid.UUID) []domain.StoredResult {
	return []domain.StoredResult{
		{
			RunID:     runID,
			Index:     0,
			Reference: domain.ReferenceEntry{Title: "Attention Is All You Need", RawText: "[1] Vaswani et al."},
			Result:    domain.Validated(domain.SourceTypeCrossref, 0.97, "DOI resolves and metadata matches (Crossref, score 0.97)."),
		},
		{
			RunID:     runID,
			Index:     1,
			Reference: domain.ReferenceEntry{Title: "Imaginary Paper", RawText: "[2] Nobody. Imaginary Paper."},
			Result:    domain.NotFound("No matching record above threshold in Crossref, Google Scholar, arXiv."),
		},
	}
}

func TestPgRunRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates run successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		run := newTestRun()

		mock.ExpectExec("INSERT INTO verification_runs").
			WithArgs(run.ID, run.Label, "running", run.ReferenceCount, run.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, run))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults status and timestamp", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgRunRepository(mock)
		run := &domain.VerificationRun{ID: uuid.New()}

		mock.ExpectExec("INSERT INTO verification_runs").
			WithArgs(run.ID, "", "running", 0, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, run))
		assert.Equal(t, domain.RunStatusRunning, run.Status)
		assert.False(t, run.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name  string
			run   *domain.VerificationRun
			field string
		}{
			{"nil run", nil, "run"},
			{"missing id", &domain.VerificationRun{}, "id"},
			{"negative count", &domain.VerificationRun{ID: uuid.New(), ReferenceCount: -1}, "reference_count"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mock, err := pgxmock.NewPool()
				require.NoError(t, err)
				defer mock.Close()

				err = NewPgRunRepository(mock).Create(ctx, tt.run)

				var validationErr *domain.ValidationError
				require.True(t, errors.As(err, &validationErr))
				assert.Equal(t, tt.field, validationErr.Field)
			})
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		run := newTestRun()
		mock.ExpectExec("INSERT INTO verification_runs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err = NewPgRunRepository(mock).Create(ctx, run)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO verification_runs").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		err = NewPgRunRepository(mock).Create(ctx, newTestRun())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create run")
	})
}

func TestPgRunRepository_SaveResults(t *testing.T) {
	ctx := context.Background()

	t.Run("empty input is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		require.NoError(t, NewPgRunRepository(mock).SaveResults(ctx, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("saves results in one batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		runID := uuid.New()
		results := newTestResults(runID)
		now := time.Now().UTC()

		batch := mock.ExpectBatch()
		batch.ExpectQuery("INSERT INTO verification_results").
			WithArgs(runID, 0, pgxmock.AnyArg(), "validated", results[0].Result.Explanation,
				pgxmock.AnyArg(), pgxmock.AnyArg(), "", "", []string{}).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
		batch.ExpectQuery("INSERT INTO verification_results").
			WithArgs(runID, 1, pgxmock.AnyArg(), "not_found", results[1].Result.Explanation,
				pgxmock.AnyArg(), pgxmock.AnyArg(), "", "", []string{}).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

		require.NoError(t, NewPgRunRepository(mock).SaveResults(ctx, results))
		assert.Equal(t, now, results[0].CreatedAt)
		assert.Equal(t, now, results[1].CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		results := newTestResults(uuid.New())
		results[1].Result.Status = "maybe"

		err = NewPgRunRepository(mock).SaveResults(ctx, results)
		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "status", validationErr.Field)
	})

	t.Run("rejects missing run id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		err = NewPgRunRepository(mock).SaveResults(ctx, newTestResults(uuid.Nil))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgRunRepository_Complete(t *testing.T) {
	ctx := context.Background()
	summary := domain.Summary{
		CountValidated: 1,
		CountNotFound:  1,
		Warnings:       []string{"[2] Nobody. Imaginary Paper."},
	}

	t.Run("completes a running run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		completedAt := time.Now().UTC()
		warnings, _ := json.Marshal(summary.Warnings)

		mock.ExpectExec("UPDATE verification_runs SET").
			WithArgs("completed", 1, 0, 1, 0, warnings, completedAt, id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = NewPgRunRepository(mock).Complete(ctx, id, domain.RunStatusCompleted, summary, completedAt)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found when run is missing or finished", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("UPDATE verification_runs SET").
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = NewPgRunRepository(mock).Complete(ctx, uuid.New(), domain.RunStatusCancelled, summary, time.Now())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		err = NewPgRunRepository(mock).Complete(ctx, uuid.New(), domain.RunStatusRunning, summary, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgRunRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns run with summary", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		created := time.Now().UTC().Add(-time.Minute)
		completed := created.Add(30 * time.Second)

		mock.ExpectQuery("SELECT (.+) FROM verification_runs WHERE id").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(runColumnNames).
				AddRow(id, "thesis.pdf", "completed", 2, 1, 0, 1, 0,
					[]byte(`["[2] Nobody. Imaginary Paper."]`), created, &completed))

		run, err := NewPgRunRepository(mock).Get(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, id, run.ID)
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
		assert.Equal(t, 2, run.ReferenceCount)
		assert.Equal(t, 1, run.Summary.CountValidated)
		assert.Equal(t, 1, run.Summary.CountNotFound)
		assert.Equal(t, []string{"[2] Nobody. Imaginary Paper."}, run.Summary.Warnings)
		require.NotNil(t, run.CompletedAt)
		assert.Equal(t, completed, *run.CompletedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := uuid.New()
		mock.ExpectQuery("SELECT (.+) FROM verification_runs WHERE id").
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		run, err := NewPgRunRepository(mock).Get(ctx, id)
		assert.Nil(t, run)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPgRunRepository_ListResults(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	now := time.Now().UTC()
	crossref := "crossref"
	score := 0.97
	refJSON, err := json.Marshal(domain.ReferenceEntry{Title: "Attention Is All You Need", RawText: "[1] Vaswani et al."})
	require.NoError(t, err)

	columns := []string{
		"run_id", "ref_index", "reference", "status", "explanation",
		"matched_source", "score", "matched_title", "matched_url", "sources_tried", "created_at",
	}
	mock.ExpectQuery("FROM verification_results").
		WithArgs(runID).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(runID, 0, refJSON, "validated", "ok", &crossref, &score, "Attention Is All You Need", "",
				[]string{"crossref"}, now).
			AddRow(runID, 1, []byte(`{"raw_text":"[2] ibid."}`), "skipped", "nothing to verify", (*string)(nil), (*float64)(nil), "", "",
				[]string{}, now))

	results, err := NewPgRunRepository(mock).ListResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Attention Is All You Need", results[0].Reference.Title)
	assert.Equal(t, domain.StatusValidated, results[0].Result.Status)
	assert.Equal(t, "Crossref", results[0].Result.SourceName())
	assert.Equal(t, 0.97, results[0].Result.ScoreValue())
	assert.Equal(t, []domain.SourceType{domain.SourceTypeCrossref}, results[0].Result.SourcesTried)

	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, domain.StatusSkipped, results[1].Result.Status)
	assert.Nil(t, results[1].Result.MatchedSource)
	assert.Nil(t, results[1].Result.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRunRepository_List(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	status := "running"
	mock.ExpectQuery("SELECT count").
		WithArgs(&status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT (.+) FROM verification_runs").
		WithArgs(&status, DefaultListLimit, 0).
		WillReturnRows(pgxmock.NewRows(runColumnNames).
			AddRow(uuid.New(), "", "running", 5, 0, 0, 0, 0, []byte(`[]`), time.Now(), (*time.Time)(nil)))

	runs, total, err := NewPgRunRepository(mock).List(ctx, RunFilter{Status: domain.RunStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].CompletedAt)
	assert.Empty(t, runs[0].Summary.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFilter_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		in     RunFilter
		limit  int
		offset int
	}{
		{"defaults", RunFilter{}, DefaultListLimit, 0},
		{"caps limit", RunFilter{Limit: 10000}, MaxListLimit, 0},
		{"negative offset", RunFilter{Limit: 5, Offset: -3}, 5, 0},
		{"keeps valid values", RunFilter{Limit: 20, Offset: 40}, 20, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.limit, got.Limit)
			assert.Equal(t, tt.offset, got.Offset)
		})
	}
}
