package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/availability"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/config"
	"github.com/hackgods/salon-booking-engine/internal/notify"
	redisclient "github.com/hackgods/salon-booking-engine/internal/redis"
)

const (
	EventAppointmentCreated           = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed         = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted         = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled         = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled       = "APPOINTMENT_RESCHEDULED"
	EventAppointmentNeedsRescheduling = "APPOINTMENT_NEEDS_RESCHEDULING"
	EventReminderSent                 = "APPOINTMENT_REMINDER_SENT"
)

type Deps struct {
	Store     Store
	Calendars CalendarStore
	Catalog   ServiceCatalog
	Users     UserDirectory
	Locker    redisclient.Locker
	Notifier  Notifier
}

type Service struct {
	store     Store
	calendars CalendarStore
	catalog   ServiceCatalog
	users     UserDirectory
	locker    redisclient.Locker
	notifier  Notifier
	query     *availability.Query
	cfg       config.Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(deps Deps, cfg config.Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Service{
		store:     deps.Store,
		calendars: deps.Calendars,
		catalog:   deps.Catalog,
		users:     deps.Users,
		locker:    deps.Locker,
		notifier:  notifier,
		query:     availability.NewQuery(cfg.GranularityMinutes(), availability.Mode(cfg.ConflictMode)),
		cfg:       cfg,
		logger:    logger.With().Str("component", "appointment").Logger(),
		now:       time.Now,
	}
}

// SetClock replaces the wall clock. Intended for tests and simulations.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Today is the current calendar date in the business time zone.
func (s *Service) Today() time.Time {
	return calendar.DateOf(s.now().In(s.cfg.Location))
}

// Granularity is the step between slot start times in minutes.
func (s *Service) Granularity() int {
	return s.query.Granularity()
}

func (s *Service) horizonEnd(months int) time.Time {
	if months <= 0 || months > s.cfg.HorizonMonths {
		months = s.cfg.HorizonMonths
	}
	return s.Today().AddDate(0, months, 0)
}

func (s *Service) checkHorizon(date time.Time) error {
	today := s.Today()
	if date.Before(today) {
		return apperr.OutOfRange("%s is in the past", calendar.FormatDate(date))
	}
	if last := s.horizonEnd(0); date.After(last) {
		return apperr.OutOfRange("%s is beyond the booking horizon (%s)", calendar.FormatDate(date), calendar.FormatDate(last))
	}
	return nil
}

func (s *Service) loadCalendar(ctx context.Context) (*calendar.Calendar, error) {
	cal, err := s.calendars.LoadCalendar(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return cal, nil
}

// GetAvailableDays lists open dates from today through the horizon, inclusive.
func (s *Service) GetAvailableDays(ctx context.Context, horizonMonths int) ([]time.Time, error) {
	open, _, err := s.days(ctx, horizonMonths)
	return open, err
}

// GetUnavailableDays lists closed dates from today through the horizon, inclusive.
func (s *Service) GetUnavailableDays(ctx context.Context, horizonMonths int) ([]time.Time, error) {
	_, closed, err := s.days(ctx, horizonMonths)
	return closed, err
}

func (s *Service) days(ctx context.Context, horizonMonths int) (open, closed []time.Time, err error) {
	cal, err := s.loadCalendar(ctx)
	if err != nil {
		return nil, nil, err
	}
	open, closed, warnings := s.query.Days(cal, s.Today(), s.horizonEnd(horizonMonths))
	for _, w := range warnings {
		s.logger.Warn().Err(w).Msg("calendar misconfigured, day treated as closed")
	}
	return open, closed, nil
}

// GetAvailability returns the free start times on date for a service of the
// given length. A non positive duration means one slot step.
func (s *Service) GetAvailability(ctx context.Context, date time.Time, duration int) (availability.Result, error) {
	date = calendar.DateOf(date)
	if err := s.checkHorizon(date); err != nil {
		return availability.Result{}, err
	}
	if duration <= 0 {
		duration = s.query.Granularity()
	}
	if duration > MaxDuration {
		return availability.Result{}, apperr.Validation("duration must be at most %d minutes", MaxDuration)
	}
	cal, err := s.loadCalendar(ctx)
	if err != nil {
		return availability.Result{}, err
	}
	res, err := s.query.Slots(ctx, cal, date, duration, s.store)
	if err != nil {
		return availability.Result{}, classify(err)
	}
	if res.Warning != nil {
		s.logger.Warn().Err(res.Warning).Str("date", calendar.FormatDate(date)).Msg("calendar misconfigured, day treated as closed")
	}
	return res, nil
}

func (s *Service) ListServices(ctx context.Context) ([]Offering, error) {
	services, err := s.catalog.ListServices(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return services, nil
}

// classify maps infrastructure failures onto the error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return apperr.Transient(err, "slot is busy, retry shortly")
	case errors.Is(err, redisclient.ErrLockBackend):
		return apperr.Transient(err, "lock service unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Transient(err, "operation timed out")
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.store.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Stringer("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}

// contact resolves the recipient of a notification for userID.
func (s *Service) contact(ctx context.Context, userID uuid.UUID, actor *Actor) (name, email string) {
	if actor != nil && actor.UserID == userID && actor.Email != "" {
		return actor.Name, actor.Email
	}
	u, err := s.users.FindUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("user_id", userID).Msg("no contact for notification")
		return "", ""
	}
	return u.Name, u.Email
}

func (s *Service) notifyCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (s *Service) sendBookingConfirmation(ctx context.Context, r *Reservation, services []Offering, actor *Actor) {
	ctx, cancel := s.notifyCtx(ctx)
	defer cancel()

	name, email := s.contact(ctx, r.UserID, actor)
	if email == "" {
		return
	}
	err := s.notifier.BookingConfirmed(ctx, notify.BookingConfirmation{
		ReservationID: r.ID.String(),
		Email:         email,
		UserName:      name,
		Date:          calendar.FormatDate(r.Date),
		Time:          r.Time.String(),
		Services:      serviceNames(r.ServiceIDs, services),
		Status:        string(r.Status),
	})
	if err != nil {
		s.logger.Error().Err(err).Stringer("appointment_id", r.ID).Msg("booking confirmation not queued")
	}
}

func (s *Service) sendReschedulingNotice(ctx context.Context, from Candidate, r *Reservation, services []Offering) {
	ctx, cancel := s.notifyCtx(ctx)
	defer cancel()

	name, email := s.contact(ctx, r.UserID, nil)
	if email == "" {
		return
	}
	err := s.notifier.Rescheduled(ctx, notify.ReschedulingNotice{
		ReservationID: r.ID.String(),
		Email:         email,
		UserName:      name,
		OldDate:       calendar.FormatDate(from.Date),
		OldTime:       from.Time.String(),
		NewDate:       calendar.FormatDate(r.Date),
		NewTime:       r.Time.String(),
		Services:      serviceNames(r.ServiceIDs, services),
	})
	if err != nil {
		s.logger.Error().Err(err).Stringer("appointment_id", r.ID).Msg("rescheduling notice not queued")
	}
}

func serviceNames(ids []uuid.UUID, services []Offering) []string {
	byID := make(map[uuid.UUID]Offering, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if svc, ok := byID[id]; ok {
			names = append(names, svc.Name)
		}
	}
	return names
}

type discardNotifier struct{}

func (discardNotifier) BookingConfirmed(context.Context, notify.BookingConfirmation) error { return nil }
func (discardNotifier) Rescheduled(context.Context, notify.ReschedulingNotice) error       { return nil }
func (discardNotifier) Reminder(context.Context, notify.ReminderNotice) error              { return nil }
