package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/repository"
	"github.com/helixir/citation-verification-service/internal/service"
)

// Pagination and validation constants.
const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxLabelLength  = 500
)

// referenceRequest is one reference in a verification request.
type referenceRequest struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    *int     `json:"year,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"`
	RawText string   `json:"raw_text"`
}

// createVerificationRequest is the JSON request body for starting a verification.
type createVerificationRequest struct {
	Label      string             `json:"label,omitempty"`
	References []referenceRequest `json:"references"`
	// Async returns immediately with a run ID instead of waiting for results.
	Async bool `json:"async,omitempty"`
}

func (r referenceRequest) toDomain() domain.ReferenceEntry {
	entry := domain.ReferenceEntry{
		Title:   r.Title,
		Authors: r.Authors,
		Year:    r.Year,
		DOI:     r.DOI,
		URL:     r.URL,
		RawText: r.RawText,
	}
	if r.Type != "" {
		entry.Type = domain.ParseReferenceType(r.Type)
	}
	if strings.TrimSpace(entry.RawText) == "" {
		entry.RawText = strings.TrimSpace(r.Title)
	}
	return entry.Normalized()
}

// createVerification handles POST /api/v1/verifications.
// Synchronous requests return every result; async requests return a run ID
// that can be polled or streamed.
func (s *Server) createVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer r.Body.Close()

	var req createVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body must be at most %d bytes", s.cfg.MaxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Label = strings.TrimSpace(req.Label)
	if len(req.Label) > maxLabelLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("label must be at most %d characters", maxLabelLength))
		return
	}
	if len(req.References) == 0 {
		writeError(w, http.StatusBadRequest, "references are required")
		return
	}
	if len(req.References) > s.cfg.MaxReferences {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("references must have at most %d entries", s.cfg.MaxReferences))
		return
	}

	refs := make([]domain.ReferenceEntry, len(req.References))
	for i, ref := range req.References {
		refs[i] = ref.toDomain()
	}
	svcReq := service.Request{Label: req.Label, References: refs}

	if req.Async {
		runID, err := s.svc.Start(s.runCtx, svcReq)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Location", "/api/v1/verifications/"+runID.String())
		writeJSON(w, http.StatusAccepted, startVerificationResponse{
			RunID:     runID.String(),
			Status:    string(domain.RunStatusRunning),
			CreatedAt: time.Now().UTC(),
			Message:   "verification started",
		})
		return
	}

	batch, err := s.svc.Verify(ctx, svcReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchToResponse(req.Label, refs, batch))
}

// getVerification handles GET /api/v1/verifications/{runID}.
func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.svc.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainRunToResponse(run))
}

// getVerificationResults handles GET /api/v1/verifications/{runID}/results.
func (s *Server) getVerificationResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	stored, err := s.svc.ListResults(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listResultsResponse{
		RunID:   runID.String(),
		Results: storedResultsToResponse(stored),
	})
}

// cancelVerification handles DELETE /api/v1/verifications/{runID}.
// It requests cancellation of a background run.
func (s *Server) cancelVerification(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if err := s.svc.Cancel(runID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		// Not running here: distinguish a finished run from an unknown one.
		run, getErr := s.svc.GetRun(r.Context(), runID)
		if getErr != nil {
			writeDomainError(w, getErr)
			return
		}
		if run.Status.IsTerminal() {
			writeError(w, http.StatusConflict, "verification is already in terminal state")
			return
		}
		writeError(w, http.StatusConflict, "verification is not running on this server")
		return
	}

	writeJSON(w, http.StatusAccepted, cancelVerificationResponse{
		Success: true,
		Message: "cancellation requested",
	})
}

// listVerifications handles GET /api/v1/verifications.
// It returns a paginated list of runs with an optional status filter.
func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.RunFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status := domain.RunStatus(statusParam)
		switch status {
		case domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusCancelled:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, "status must be one of running, completed, cancelled")
			return
		}
	}

	runs, totalCount, err := s.svc.ListRuns(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]runResponse, len(runs))
	for i, run := range runs {
		summaries[i] = domainRunToResponse(run)
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:          summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, service.ErrPersistenceDisabled):
		writeError(w, http.StatusServiceUnavailable, "run persistence is disabled")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
