package events

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/citation-verification-service/internal/domain"
)

// Emitter builds run lifecycle events and hands them to a Publisher.
type Emitter struct {
	publisher   Publisher
	serviceName string
}

// NewEmitter creates an emitter. An empty serviceName uses the default.
func NewEmitter(publisher Publisher, serviceName string) *Emitter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	return &Emitter{publisher: publisher, serviceName: serviceName}
}

// RunStarted publishes verification.started for run.
func (e *Emitter) RunStarted(ctx context.Context, run *domain.VerificationRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	return e.emit(ctx, domain.EventTypeVerificationStarted, run, domain.VerificationStartedPayload{
		RunID:          run.ID,
		Label:          run.Label,
		ReferenceCount: run.ReferenceCount,
	})
}

// RunFinished publishes verification.completed or verification.cancelled
// depending on the run status. The run must be in a terminal status.
func (e *Emitter) RunFinished(ctx context.Context, run *domain.VerificationRun, duration time.Duration) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}

	var eventType string
	switch run.Status {
	case domain.RunStatusCompleted:
		eventType = domain.EventTypeVerificationCompleted
	case domain.RunStatusCancelled:
		eventType = domain.EventTypeVerificationCancelled
	default:
		return domain.NewValidationError("status", fmt.Sprintf("run %s is still %s", run.ID, run.Status))
	}

	return e.emit(ctx, eventType, run, domain.VerificationCompletedPayload{
		RunID:          run.ID,
		Label:          run.Label,
		Status:         run.Status,
		ReferenceCount: run.ReferenceCount,
		Summary:        run.Summary,
		Duration:       duration,
	})
}

func (e *Emitter) emit(ctx context.Context, eventType string, run *domain.VerificationRun, payload interface{}) error {
	event, err := domain.NewEvent(eventType, run.ID.String(), AggregateTypeVerificationRun, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	event.WithMetadata(map[string]interface{}{"source": e.serviceName})
	return e.publisher.Publish(ctx, event)
}
