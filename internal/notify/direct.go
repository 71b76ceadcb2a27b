package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Direct sends notifications from a background goroutine without a queue.
// Delivery is attempted once. It is used with the in-memory store.
type Direct struct {
	sender  Sender
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDirect(sender Sender, logger zerolog.Logger) *Direct {
	return &Direct{sender: sender, logger: logger, timeout: 30 * time.Second}
}

func (d *Direct) BookingConfirmed(ctx context.Context, p BookingConfirmation) error {
	d.dispatch(ctx, TypeBookingConfirmation, RenderBookingConfirmation(p))
	return nil
}

func (d *Direct) Rescheduled(ctx context.Context, p ReschedulingNotice) error {
	d.dispatch(ctx, TypeRescheduling, RenderReschedulingNotice(p))
	return nil
}

func (d *Direct) Reminder(ctx context.Context, p ReminderNotice) error {
	d.dispatch(ctx, TypeReminder, RenderReminder(p))
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Direct) Wait() {
	d.wg.Wait()
}

func (d *Direct) dispatch(ctx context.Context, kind string, msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		_ = deliver(sendCtx, d.sender, d.logger, kind, msg)
	}()
}
