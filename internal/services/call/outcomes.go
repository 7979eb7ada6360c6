package call

import (
	"context"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/core/event"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/ClareAI/astra-outbound-caller/pkg/pubsub"
	"go.uber.org/zap"
)

const outcomePublishTimeout = 10 * time.Second

// OutcomeSink receives the final outcome of every call.
type OutcomeSink interface {
	PublishCallOutcome(ctx context.Context, outcome pubsub.CallOutcomeEvent) error
}

// ForwardOutcomes subscribes sink to the terminal call events on bus.
func ForwardOutcomes(bus event.EventBus, sink OutcomeSink) error {
	handler := func(e *event.CallEvent) {
		data, ok := e.GetOutcome()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), outcomePublishTimeout)
		defer cancel()
		if err := sink.PublishCallOutcome(ctx, ToOutcomeEvent(e, data)); err != nil {
			logger.Error(ctx, "Failed to publish call outcome",
				zap.String("room_name", e.RoomName), zap.String("outcome", data.Outcome), zap.Error(err))
		}
	}
	for _, t := range []event.EventType{event.CallEnded, event.CallFailed} {
		if err := bus.SubscribeWithTimeout(t, handler, outcomePublishTimeout); err != nil {
			return err
		}
	}
	return nil
}

// ToOutcomeEvent converts a terminal bus event to the published payload.
func ToOutcomeEvent(e *event.CallEvent, data *event.OutcomeData) pubsub.CallOutcomeEvent {
	return pubsub.CallOutcomeEvent{
		RoomName:      e.RoomName,
		PhoneNumber:   e.PhoneNumber,
		CustomerName:  data.CustomerName,
		Outcome:       data.Outcome,
		SIPStatusCode: data.SIPStatusCode,
		Reason:        data.Reason,
		StartAt:       data.StartedAt,
		EndAt:         data.EndedAt,
		Duration:      int(data.EndedAt.Sub(data.StartedAt).Seconds()),
	}
}
