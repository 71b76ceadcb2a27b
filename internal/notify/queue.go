package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/metrics"
)

// Queue enqueues notification tasks on Redis for the notify worker.
// Task IDs are derived from the reservation so a repeated enqueue for the
// same event is dropped by asynq instead of producing a second message.
type Queue struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	logger   zerolog.Logger
}

func NewQueue(opt asynq.RedisClientOpt, queue string, maxRetry int, logger zerolog.Logger) *Queue {
	return &Queue{
		client:   asynq.NewClient(opt),
		queue:    queue,
		maxRetry: maxRetry,
		logger:   logger,
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) BookingConfirmed(ctx context.Context, p BookingConfirmation) error {
	task, err := NewBookingConfirmationTask(p)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, p.ReservationID)
}

func (q *Queue) Rescheduled(ctx context.Context, p ReschedulingNotice) error {
	task, err := NewReschedulingTask(p)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, p.ReservationID)
}

func (q *Queue) Reminder(ctx context.Context, p ReminderNotice) error {
	task, err := NewReminderTask(p)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, p.ReservationID)
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, reservationID string) error {
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(30*time.Second),
		asynq.TaskID(task.Type()+":"+reservationID),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.Debug().Str("type", task.Type()).Str("reservation_id", reservationID).Msg("notification already queued")
		return nil
	}
	if err != nil {
		metrics.IncNotification(task.Type(), "enqueue_failed")
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	metrics.IncNotification(task.Type(), "enqueued")
	q.logger.Debug().Str("type", task.Type()).Str("task_id", info.ID).Msg("notification enqueued")
	return nil
}
