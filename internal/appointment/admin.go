package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

const statsMonths = 6

// GetAppointment returns one reservation to its owner or an administrator.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if r.UserID != actor.UserID && !actor.IsAdmin() {
		// Do not reveal that the id exists.
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	return r, nil
}

// GetUserAppointments lists the actor's own reservations by date and time.
func (s *Service) GetUserAppointments(ctx context.Context, actor Actor) ([]Reservation, error) {
	list, err := s.store.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func (s *Service) ListAppointments(ctx context.Context, actor Actor, filter ListFilter) ([]Reservation, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, classify(err)
	}
	return list, nil
}

func validateFilter(f ListFilter) error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.Validation("to must not be before from")
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return apperr.Validation("unknown status %q", st)
		}
	}
	return nil
}

// Stats reports today's active bookings, totals per status and bookings per
// month for the last six months including the current one.
func (s *Service) Stats(ctx context.Context, actor Actor) (*Stats, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	today := s.Today()

	todayCount, err := s.store.CountActiveOn(ctx, today)
	if err != nil {
		return nil, classify(err)
	}
	byStatus, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, classify(err)
	}

	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(statsMonths - 1), 0)
	counts, err := s.store.MonthlyCounts(ctx, first)
	if err != nil {
		return nil, classify(err)
	}
	monthly := make([]MonthCount, 0, statsMonths)
	for i := 0; i < statsMonths; i++ {
		month := first.AddDate(0, i, 0).Format("2006-01")
		monthly = append(monthly, MonthCount{Month: month, Count: counts[month]})
	}

	for _, st := range []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNeedsRescheduling} {
		if _, ok := byStatus[st]; !ok {
			byStatus[st] = 0
		}
	}
	return &Stats{Today: todayCount, ByStatus: byStatus, Monthly: monthly}, nil
}

func (s *Service) GetCalendar(ctx context.Context, actor Actor) (*calendar.Calendar, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.loadCalendar(ctx)
}

// UpdateCalendar replaces the weekly schedule and the overrides, then moves
// reservations the new calendar no longer accommodates.
func (s *Service) UpdateCalendar(ctx context.Context, actor Actor, cal *calendar.Calendar) (*calendar.Calendar, RelocationReport, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, RelocationReport{}, err
	}
	if err := cal.Validate(); err != nil {
		return nil, RelocationReport{}, apperr.Wrap(apperr.KindValidation, err, "invalid calendar")
	}
	saved, err := s.calendars.SaveCalendar(ctx, cal)
	if err != nil {
		return nil, RelocationReport{}, classify(err)
	}
	s.logger.Info().Int64("version", saved.Version).Msg("calendar updated")

	report, err := s.afterCalendarChange(ctx)
	return saved, report, err
}

// SetOverride installs or replaces the schedule for one date.
func (s *Service) SetOverride(ctx context.Context, actor Actor, o calendar.Override) (RelocationReport, error) {
	if err := s.requireAdmin(actor); err != nil {
		return RelocationReport{}, err
	}
	o.Date = calendar.DateOf(o.Date)
	if o.Date.Before(s.Today()) {
		return RelocationReport{}, apperr.OutOfRange("cannot override %s, it is in the past", calendar.FormatDate(o.Date))
	}
	if err := o.Schedule.Validate(); err != nil {
		return RelocationReport{}, apperr.Wrap(apperr.KindValidation, err, "invalid schedule for %s", calendar.FormatDate(o.Date))
	}
	if err := s.calendars.PutOverride(ctx, o); err != nil {
		return RelocationReport{}, classify(err)
	}
	s.logger.Info().Str("date", calendar.FormatDate(o.Date)).Bool("closed", !o.Schedule.IsOpen()).Str("reason", o.Reason).Msg("calendar override set")

	return s.afterCalendarChange(ctx)
}

func (s *Service) DeleteOverride(ctx context.Context, actor Actor, date time.Time) (RelocationReport, error) {
	if err := s.requireAdmin(actor); err != nil {
		return RelocationReport{}, err
	}
	date = calendar.DateOf(date)
	ok, err := s.calendars.DeleteOverride(ctx, date)
	if err != nil {
		return RelocationReport{}, classify(err)
	}
	if !ok {
		return RelocationReport{}, apperr.NotFound("no override on %s", calendar.FormatDate(date))
	}
	s.logger.Info().Str("date", calendar.FormatDate(date)).Msg("calendar override removed")

	return s.afterCalendarChange(ctx)
}

// afterCalendarChange moves reservations the calendar no longer fits and
// retries the ones already waiting, since new opening hours may fit them.
func (s *Service) afterCalendarChange(ctx context.Context) (RelocationReport, error) {
	report, err := s.RelocateDisplaced(ctx)
	if err != nil {
		return report, err
	}
	report.Resolved, err = s.ResolveOutstanding(ctx)
	return report, err
}
