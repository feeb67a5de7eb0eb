package service

import (
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// ProgressType names a progress event.
type ProgressType string

const (
	ProgressResult    ProgressType = "result"
	ProgressCompleted ProgressType = "completed"
	ProgressCancelled ProgressType = "cancelled"
)

// IsTerminal reports whether no further events follow.
func (t ProgressType) IsTerminal() bool {
	return t == ProgressCompleted || t == ProgressCancelled
}

func progressTypeFor(status domain.RunStatus) ProgressType {
	if status == domain.RunStatusCancelled {
		return ProgressCancelled
	}
	return ProgressCompleted
}

// Progress is one event of a running verification.
type Progress struct {
	Type    ProgressType               `json:"event_type"`
	RunID   uuid.UUID                  `json:"run_id"`
	Index   int                        `json:"index"`
	Total   int                        `json:"total"`
	Result  *domain.VerificationResult `json:"result,omitempty"`
	Summary *domain.Summary            `json:"summary,omitempty"`
}

// subscriberBuffer is the per-subscriber channel size. Result events that do
// not fit are dropped; the terminal event is always delivered.
const subscriberBuffer = 64

type subscriber struct {
	ch chan Progress
}

// progressHub fans progress events out to subscribers, per run.
type progressHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

func (h *progressHub) subscribe(runID uuid.UUID) (<-chan Progress, func()) {
	sub := &subscriber{ch: make(chan Progress, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*subscriber]struct{})
	}
	h.subs[runID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[runID][sub]; ok {
				delete(h.subs[runID], sub)
				close(sub.ch)
			}
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
		})
	}
}

// publish delivers p without blocking.
func (h *progressHub) publish(runID uuid.UUID, p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[runID] {
		select {
		case sub.ch <- p:
		default:
		}
	}
}

// finish delivers the terminal event and closes every subscriber of runID.
func (h *progressHub) finish(runID uuid.UUID, p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[runID] {
		select {
		case sub.ch <- p:
		default:
			// Make room for the terminal event.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- p
		}
		close(sub.ch)
	}
	delete(h.subs, runID)
}
