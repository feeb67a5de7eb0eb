package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/service"
)

const (
	// sseQueryInterval is how often we poll the repository for authoritative state.
	sseQueryInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 1 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string           `json:"event_type"`
	RunID     string           `json:"run_id"`
	Status    string           `json:"status,omitempty"`
	Index     *int             `json:"index,omitempty"`
	Total     int              `json:"total,omitempty"`
	Result    *resultResponse  `json:"result,omitempty"`
	Summary   *summaryResponse `json:"summary,omitempty"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// streamProgress handles GET /api/v1/verifications/{runID}/progress (SSE).
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.svc.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// If already terminal, send one event and close.
	if run.Status.IsTerminal() {
		sendSSEEvent(w, flusher, terminalRunEvent(run))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// A nil channel blocks forever, leaving the poll as the only signal.
	var progressCh <-chan service.Progress
	if ch, unsubscribe, subscribed := s.svc.Subscribe(runID); subscribed {
		defer unsubscribe()
		progressCh = ch
	}

	sendSSEEvent(w, flusher, sseEvent{
		EventType: "stream_started",
		RunID:     runID.String(),
		Status:    string(run.Status),
		Total:     run.ReferenceCount,
		Message:   "progress stream started",
		Timestamp: time.Now(),
	})

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(sseQueryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				RunID:     runID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case p, open := <-progressCh:
			if !open {
				// Hub closed without a terminal event; the poll reports the final state.
				progressCh = nil
				continue
			}
			event := progressToEvent(runID, p)
			sendSSEEvent(w, flusher, event)
			if isTerminalEventType(event.EventType) {
				return
			}

		case <-ticker.C:
			current, pollErr := s.svc.GetRun(ctx, runID)
			if pollErr != nil {
				s.logger.Error().Err(pollErr).Str("run_id", runID.String()).Msg("failed to poll verification status")
				continue
			}
			if current.Status.IsTerminal() {
				sendSSEEvent(w, flusher, terminalRunEvent(current))
				return
			}
		}
	}
}

// progressToEvent converts a service progress event into an SSE event.
func progressToEvent(runID uuid.UUID, p service.Progress) sseEvent {
	event := sseEvent{
		EventType: string(p.Type),
		RunID:     runID.String(),
		Total:     p.Total,
		Timestamp: time.Now(),
	}
	if p.Result != nil {
		index := p.Index
		event.Index = &index
		resp := domainResultToResponse(p.Index, domain.ReferenceEntry{}, *p.Result)
		event.Result = &resp
		event.Message = fmt.Sprintf("reference %d of %d: %s", p.Index+1, p.Total, p.Result.Status)
	}
	if p.Summary != nil {
		summary := domainSummaryToResponse(*p.Summary)
		event.Summary = &summary
	}
	if p.Type.IsTerminal() {
		if p.Type == service.ProgressCancelled {
			event.Status = string(domain.RunStatusCancelled)
		} else {
			event.Status = string(domain.RunStatusCompleted)
		}
		event.Message = "verification finished with status: " + event.Status
	}
	return event
}

// terminalRunEvent builds the single event sent for a finished run.
func terminalRunEvent(run *domain.VerificationRun) sseEvent {
	eventType := string(service.ProgressCompleted)
	if run.Status == domain.RunStatusCancelled {
		eventType = string(service.ProgressCancelled)
	}
	summary := domainSummaryToResponse(run.Summary)
	return sseEvent{
		EventType: eventType,
		RunID:     run.ID.String(),
		Status:    string(run.Status),
		Total:     run.ReferenceCount,
		Summary:   &summary,
		Message:   "verification is in terminal state",
		Timestamp: time.Now(),
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}

// isTerminalEventType returns true if the event type represents a terminal state.
func isTerminalEventType(eventType string) bool {
	return eventType == string(service.ProgressCompleted) || eventType == string(service.ProgressCancelled)
}
