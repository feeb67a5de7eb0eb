package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/domain"
	"github.com/helixir/citation-verification-service/internal/service"
)

func runningRun(id uuid.UUID) *domain.VerificationRun {
	return &domain.VerificationRun{
		ID:             id,
		Label:          "paper.pdf",
		Status:         domain.RunStatusRunning,
		ReferenceCount: 2,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestStreamProgress_TerminalRun(t *testing.T) {
	tests := []struct {
		name          string
		status        domain.RunStatus
		expectedEvent string
	}{
		{"completed", domain.RunStatusCompleted, "completed"},
		{"cancelled", domain.RunStatusCancelled, "cancelled"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runID := uuid.New()
			svc := &mockVerificationService{
				getRunFn: func(_ context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
					return terminalRun(id, tc.status), nil
				},
				subscribeFn: func(uuid.UUID) (<-chan service.Progress, func(), bool) {
					t.Error("terminal runs must not subscribe")
					return nil, func() {}, false
				},
			}
			srv := newTestHTTPServer(svc, nil)

			rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, buildPath("/"+runID.String()+"/progress"), nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
				t.Errorf("expected Content-Type text/event-stream, got %q", ct)
			}

			events := parseSSEEvents(t, rr.Body.String())
			if len(events) != 1 {
				t.Fatalf("expected exactly 1 event, got %d: %v", len(events), events)
			}
			if events[0].eventType != tc.expectedEvent {
				t.Errorf("expected event %q, got %q", tc.expectedEvent, events[0].eventType)
			}

			var payload sseEvent
			if err := json.Unmarshal([]byte(events[0].data), &payload); err != nil {
				t.Fatalf("failed to unmarshal event data: %v", err)
			}
			if payload.RunID != runID.String() {
				t.Errorf("expected run ID %s, got %s", runID, payload.RunID)
			}
			if payload.Status != string(tc.status) {
				t.Errorf("expected status %s, got %s", tc.status, payload.Status)
			}
			if payload.Summary == nil || payload.Summary.CountValidated != 1 {
				t.Errorf("expected summary with 1 validated, got %+v", payload.Summary)
			}
		})
	}
}

func TestStreamProgress_LiveEvents(t *testing.T) {
	runID := uuid.New()
	unsubscribed := make(chan struct{})

	result := domain.Validated(domain.SourceTypeCrossref, 0.97, "Title and authors match Crossref record (score 0.97).")
	summary := domain.Summary{CountValidated: 1, CountNotFound: 1, Warnings: []string{"[2] Missing."}}
	progress := make(chan service.Progress, 3)
	progress <- service.Progress{Type: service.ProgressResult, RunID: runID, Index: 0, Total: 2, Result: &result}
	progress <- service.Progress{Type: service.ProgressCompleted, RunID: runID, Total: 2, Summary: &summary}

	svc := &mockVerificationService{
		getRunFn: func(_ context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
			return runningRun(id), nil
		},
		subscribeFn: func(id uuid.UUID) (<-chan service.Progress, func(), bool) {
			if id != runID {
				t.Errorf("expected subscribe for %s, got %s", runID, id)
			}
			return progress, func() { close(unsubscribed) }, true
		},
	}
	srv := newTestHTTPServer(svc, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, buildPath("/"+runID.String()+"/progress"), nil))

	events := parseSSEEvents(t, rr.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(events), events)
	}
	expected := []string{"stream_started", "result", "completed"}
	for i, e := range events {
		if e.eventType != expected[i] {
			t.Errorf("event %d: expected %q, got %q", i, expected[i], e.eventType)
		}
	}

	var resultEvent sseEvent
	if err := json.Unmarshal([]byte(events[1].data), &resultEvent); err != nil {
		t.Fatalf("failed to unmarshal result event: %v", err)
	}
	if resultEvent.Index == nil || *resultEvent.Index != 0 {
		t.Errorf("expected index 0, got %v", resultEvent.Index)
	}
	if resultEvent.Result == nil || resultEvent.Result.Status != "validated" {
		t.Errorf("expected validated result, got %+v", resultEvent.Result)
	}

	var done sseEvent
	if err := json.Unmarshal([]byte(events[2].data), &done); err != nil {
		t.Fatalf("failed to unmarshal completed event: %v", err)
	}
	if done.Status != "completed" || done.Summary == nil || done.Summary.CountWarnings != 1 {
		t.Errorf("unexpected completed event: %+v", done)
	}

	select {
	case <-unsubscribed:
	default:
		t.Error("expected the stream to unsubscribe on return")
	}
}

func TestStreamProgress_PollFallback(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for one poll interval")
	}

	runID := uuid.New()
	var calls atomic.Int32
	closed := make(chan service.Progress)
	close(closed)

	svc := &mockVerificationService{
		getRunFn: func(_ context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
			if calls.Add(1) == 1 {
				return runningRun(id), nil
			}
			return terminalRun(id, domain.RunStatusCancelled), nil
		},
		subscribeFn: func(uuid.UUID) (<-chan service.Progress, func(), bool) {
			return closed, func() {}, true
		},
	}
	srv := newTestHTTPServer(svc, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, buildPath("/"+runID.String()+"/progress"), nil))

	events := parseSSEEvents(t, rr.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].eventType != "stream_started" || events[1].eventType != "cancelled" {
		t.Errorf("unexpected events: %v", events)
	}
}

func TestStreamProgress_ClientDisconnect(t *testing.T) {
	svc := &mockVerificationService{
		getRunFn: func(_ context.Context, id uuid.UUID) (*domain.VerificationRun, error) {
			return runningRun(id), nil
		},
		subscribeFn: func(uuid.UUID) (<-chan service.Progress, func(), bool) {
			return make(chan service.Progress), func() {}, true
		},
	}
	srv := newTestHTTPServer(svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, buildPath("/"+uuid.New().String()+"/progress"), nil).WithContext(ctx)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- serveHTTP(srv, req)
	}()
	time.AfterFunc(50*time.Millisecond, cancel)

	select {
	case rr := <-done:
		events := parseSSEEvents(t, rr.Body.String())
		if len(events) != 1 || events[0].eventType != "stream_started" {
			t.Errorf("expected only stream_started, got %v", events)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not return after client disconnect")
	}
}

func TestStreamProgress_NotFound(t *testing.T) {
	srv := newTestHTTPServer(&mockVerificationService{}, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, buildPath("/"+uuid.New().String()+"/progress"), nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestStreamProgress_InvalidUUID(t *testing.T) {
	srv := newTestHTTPServer(&mockVerificationService{}, nil)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, buildPath("/nope/progress"), nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestProgressToEvent(t *testing.T) {
	runID := uuid.New()
	result := domain.NotFound("No matching record above threshold in Crossref.")

	event := progressToEvent(runID, service.Progress{Type: service.ProgressResult, Index: 3, Total: 10, Result: &result})
	if event.EventType != "result" {
		t.Errorf("expected event type result, got %q", event.EventType)
	}
	if event.Index == nil || *event.Index != 3 {
		t.Errorf("expected index 3, got %v", event.Index)
	}
	if event.Message != "reference 4 of 10: not_found" {
		t.Errorf("unexpected message %q", event.Message)
	}
	if event.Status != "" {
		t.Errorf("expected no run status on result events, got %q", event.Status)
	}

	event = progressToEvent(runID, service.Progress{Type: service.ProgressCancelled, Total: 10, Summary: &domain.Summary{CountSkipped: 10}})
	if event.Status != "cancelled" {
		t.Errorf("expected status cancelled, got %q", event.Status)
	}
	if event.Summary == nil || event.Summary.CountSkipped != 10 {
		t.Errorf("expected summary with 10 skipped, got %+v", event.Summary)
	}
	if event.Summary.Warnings == nil {
		t.Error("expected warnings to be an empty list")
	}
}

func TestIsTerminalEventType(t *testing.T) {
	tests := []struct {
		eventType string
		terminal  bool
	}{
		{"completed", true},
		{"cancelled", true},
		{"result", false},
		{"stream_started", false},
		{"timeout", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.eventType, func(t *testing.T) {
			if got := isTerminalEventType(tc.eventType); got != tc.terminal {
				t.Errorf("isTerminalEventType(%q) = %v, want %v", tc.eventType, got, tc.terminal)
			}
		})
	}
}

func TestSendSSEEvent(t *testing.T) {
	rr := httptest.NewRecorder()
	sendSSEEvent(rr, rr, sseEvent{
		EventType: "stream_started",
		RunID:     "abc",
		Message:   "progress stream started",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	body := rr.Body.String()
	if !strings.HasPrefix(body, "event: stream_started\ndata: ") {
		t.Errorf("unexpected SSE framing: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("expected event to end with a blank line: %q", body)
	}
	if !rr.Flushed {
		t.Error("expected the recorder to be flushed")
	}
}

func TestSSEConstants(t *testing.T) {
	if sseQueryInterval != 2*time.Second {
		t.Errorf("expected sseQueryInterval 2s, got %v", sseQueryInterval)
	}
	if sseMaxDuration != time.Hour {
		t.Errorf("expected sseMaxDuration 1h, got %v", sseMaxDuration)
	}
}

// ---------------------------------------------------------------------------
// SSE parsing helper
// ---------------------------------------------------------------------------

type parsedSSEEvent struct {
	eventType string
	data      string
}

// parseSSEEvents parses SSE-formatted text into individual events.
// Each event is separated by a blank line ("\n\n").
func parseSSEEvents(t *testing.T, body string) []parsedSSEEvent {
	t.Helper()
	var events []parsedSSEEvent
	var current parsedSSEEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.eventType != "" || current.data != "" {
				events = append(events, current)
				current = parsedSSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			current.eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}

	if current.eventType != "" || current.data != "" {
		events = append(events, current)
	}

	return events
}
