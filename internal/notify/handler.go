package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/metrics"
)

// NewServeMux routes notification tasks to sender. A returned error makes
// asynq retry the task; malformed payloads are not retried.
func NewServeMux(sender Sender, logger zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBookingConfirmation, handler(sender, logger, RenderBookingConfirmation))
	mux.HandleFunc(TypeRescheduling, handler(sender, logger, RenderReschedulingNotice))
	mux.HandleFunc(TypeReminder, handler(sender, logger, RenderReminder))
	return mux
}

func handler[P any](sender Sender, logger zerolog.Logger, render func(P) Message) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p P
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error().Err(err).Str("type", task.Type()).Msg("invalid notification payload")
			metrics.IncNotification(task.Type(), "invalid")
			return fmt.Errorf("decode %s: %v: %w", task.Type(), err, asynq.SkipRetry)
		}
		return deliver(ctx, sender, logger, task.Type(), render(p))
	}
}

func deliver(ctx context.Context, sender Sender, logger zerolog.Logger, kind string, msg Message) error {
	if msg.To == "" {
		logger.Warn().Str("type", kind).Msg("notification without recipient dropped")
		metrics.IncNotification(kind, "dropped")
		return nil
	}
	if err := sender.Send(ctx, msg); err != nil {
		logger.Error().Err(err).Str("type", kind).Str("to", msg.To).Msg("notification delivery failed")
		metrics.IncNotification(kind, "failed")
		return err
	}
	metrics.IncNotification(kind, "sent")
	return nil
}
