package appointment

import (
	"context"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/notify"
)

// SendDueReminders queues a reminder for every pending or confirmed
// reservation starting within the configured lead time that has not been
// reminded yet. It returns the number of reminders queued.
func (s *Service) SendDueReminders(ctx context.Context) (int, error) {
	if s.cfg.ReminderLead <= 0 {
		return 0, nil
	}
	now := s.now().In(s.cfg.Location)
	from := calendar.DateOf(now)
	to := calendar.DateOf(now.Add(s.cfg.ReminderLead))

	due, err := s.store.List(ctx, ListFilter{
		From:     &from,
		To:       &to,
		Statuses: []Status{StatusPending, StatusConfirmed},
	})
	if err != nil {
		return 0, classify(err)
	}

	sent := 0
	for i := range due {
		r := &due[i]
		starts := r.StartsAt(s.cfg.Location)
		if r.ReminderSent || starts.Before(now) || starts.Sub(now) > s.cfg.ReminderLead {
			continue
		}

		name, email := s.contact(ctx, r.UserID, nil)
		if email == "" {
			continue
		}
		services, err := s.catalog.FindServicesByIDs(ctx, r.ServiceIDs)
		if err != nil {
			s.logger.Warn().Err(err).Stringer("appointment_id", r.ID).Msg("service names unavailable for reminder")
		}
		err = s.notifier.Reminder(ctx, notify.ReminderNotice{
			ReservationID: r.ID.String(),
			Email:         email,
			UserName:      name,
			Date:          calendar.FormatDate(r.Date),
			Time:          r.Time.String(),
			Services:      serviceNames(r.ServiceIDs, services),
		})
		if err != nil {
			s.logger.Error().Err(err).Stringer("appointment_id", r.ID).Msg("reminder not queued")
			continue
		}
		if err := s.store.MarkReminderSent(ctx, r.ID); err != nil {
			return sent, classify(err)
		}
		s.logEvent(ctx, r.ID, EventReminderSent, map[string]any{"email": email})
		sent++
	}
	return sent, nil
}
