package appointment

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/availability"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/metrics"
)

const maxNotesLength = 500

type CreateRequest struct {
	// UserID is the customer. The zero value books for the actor.
	UserID     uuid.UUID
	ServiceIDs []uuid.UUID
	Date       time.Time
	Time       calendar.TimeOfDay
	Notes      string
	// AutoReschedule moves the booking to the next free slot when the
	// requested one is taken. Administrators only.
	AutoReschedule bool
}

// CreateAppointment books one reservation. Validation, the booking horizon and
// the service lookup are checked before any slot is locked.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req CreateRequest) (*Reservation, error) {
	start := time.Now()
	r, err := s.createAppointment(ctx, actor, req)
	metrics.ObserveBooking(bookingOutcome(err), time.Since(start))
	return r, err
}

func bookingOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperr.KindOf(err))
}

func (s *Service) createAppointment(ctx context.Context, actor Actor, req CreateRequest) (*Reservation, error) {
	if req.UserID == uuid.Nil {
		req.UserID = actor.UserID
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if req.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, apperr.Permission("cannot book on behalf of another user")
	}
	if req.AutoReschedule && !actor.IsAdmin() {
		return nil, apperr.Permission("automatic rescheduling requires the administrator role")
	}

	date := calendar.DateOf(req.Date)
	if err := s.checkHorizon(date); err != nil {
		return nil, err
	}

	if _, err := s.users.FindUser(ctx, req.UserID); err != nil {
		return nil, classify(err)
	}
	services, total, err := s.resolveServices(ctx, req.ServiceIDs)
	if err != nil {
		return nil, err
	}

	status := StatusPending
	if s.cfg.AutoConfirm {
		status = StatusConfirmed
	}
	now := s.now()
	r := &Reservation{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ServiceIDs:    req.ServiceIDs,
		Date:          date,
		Time:          req.Time,
		TotalDuration: total,
		Status:        status,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.book(ctx, r)
	// Only a lost race is relocated. A start that is not a slot stays an error.
	if req.AutoReschedule && errors.Is(err, apperr.ErrSlotConflict) {
		s.logger.Info().
			Str("date", calendar.FormatDate(date)).
			Stringer("time", req.Time).
			Msg("requested slot taken, searching for the next free one")
		return s.ResolveConflict(ctx, ConflictInput{
			UserID:     req.UserID,
			ServiceIDs: req.ServiceIDs,
			Date:       date,
			Time:       req.Time,
			Duration:   total,
			Notes:      req.Notes,
		})
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, r.ID, EventAppointmentCreated, map[string]any{
		"user_id":  r.UserID,
		"date":     calendar.FormatDate(r.Date),
		"time":     r.Time.String(),
		"duration": r.TotalDuration,
		"status":   r.Status,
	})
	s.logger.Info().
		Stringer("appointment_id", r.ID).
		Stringer("user_id", r.UserID).
		Str("date", calendar.FormatDate(r.Date)).
		Stringer("time", r.Time).
		Msg("appointment booked")

	s.sendBookingConfirmation(ctx, r, services, &actor)
	return r, nil
}

func validateCreate(req CreateRequest) error {
	if req.UserID == uuid.Nil {
		return apperr.Validation("user is required")
	}
	if len(req.ServiceIDs) == 0 {
		return apperr.Validation("at least one service is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(req.ServiceIDs))
	for _, id := range req.ServiceIDs {
		if id == uuid.Nil {
			return apperr.Validation("service id is required")
		}
		if _, dup := seen[id]; dup {
			return apperr.Validation("service %s listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	if req.Date.IsZero() {
		return apperr.Validation("date is required")
	}
	if req.Time < 0 || req.Time.Minutes() >= 24*60 {
		return apperr.Validation("time must be within the day")
	}
	if len(req.Notes) > maxNotesLength {
		return apperr.Validation("notes must be at most %d characters", maxNotesLength)
	}
	return nil
}

// resolveServices loads the requested services and sums their durations.
func (s *Service) resolveServices(ctx context.Context, ids []uuid.UUID) ([]Offering, int, error) {
	found, err := s.catalog.FindServicesByIDs(ctx, ids)
	if err != nil {
		return nil, 0, classify(err)
	}
	if len(found) != len(ids) {
		for _, id := range ids {
			if !slices.ContainsFunc(found, func(svc Offering) bool { return svc.ID == id }) {
				return nil, 0, apperr.NotFound("service %s not found", id)
			}
		}
	}

	total := 0
	for _, svc := range found {
		total += svc.Duration
	}
	if total < MinDuration || total > MaxDuration {
		return nil, 0, apperr.Validation("total duration must be between %d and %d minutes, got %d", MinDuration, MaxDuration, total)
	}
	return found, total, nil
}

// isSlotTaken reports whether a resolver candidate was lost, either to
// another booking or to a calendar change since it was found.
func isSlotTaken(err error) bool {
	return errors.Is(err, apperr.ErrSlotConflict) || errors.Is(err, apperr.ErrSlotUnavailable)
}

// slotKey names the mutual exclusion scope of a booking at (date, t).
// Overlap mode serialises the whole day since intervals may cross slot keys.
func (s *Service) slotKey(date time.Time, t calendar.TimeOfDay) string {
	if s.query.Mode() == availability.ModeOverlap {
		return calendar.FormatDate(date)
	}
	return calendar.FormatDate(date) + "|" + t.String()
}

func (s *Service) bookingCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.BookingTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.BookingTimeout)
}

// book inserts r after re-checking its slot under the slot lock and inside
// the slot transaction.
func (s *Service) book(ctx context.Context, r *Reservation) error {
	return s.bookReplacing(ctx, r, nil)
}

// bookReplacing inserts r and, in the same transaction, cancels original when
// it is not nil. The cancellation is conditional on original still being in
// the status it was read with.
func (s *Service) bookReplacing(ctx context.Context, r *Reservation, original *Reservation) error {
	ctx, cancel := s.bookingCtx(ctx)
	defer cancel()

	key := s.slotKey(r.Date, r.Time)
	err := s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		return s.store.WithSlotTx(lockCtx, key, func(txCtx context.Context, tx SlotTx) error {
			if err := s.checkSlot(txCtx, tx, r.Date, r.Time, r.TotalDuration); err != nil {
				return err
			}
			if err := tx.Insert(txCtx, r); err != nil {
				return err
			}
			if original == nil {
				return nil
			}
			_, err := tx.UpdateStatus(txCtx, original.ID, original.Status, StatusCancelled, "rescheduled")
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Transient(errStatusChanged, "appointment changed concurrently, retry")
			}
			return err
		})
	})
	return classify(err)
}

func (s *Service) checkSlot(ctx context.Context, tx SlotTx, date time.Time, t calendar.TimeOfDay, duration int) error {
	cal, err := tx.LoadCalendar(ctx)
	if err != nil {
		return err
	}
	res := s.query.Candidates(cal, date, duration)
	if res.Warning != nil {
		s.logger.Warn().Err(res.Warning).Str("date", calendar.FormatDate(date)).Msg("calendar misconfigured, day treated as closed")
	}
	if !slices.Contains(res.Slots, t) {
		if !res.Open {
			return apperr.SlotUnavailable("the salon is closed on %s", calendar.FormatDate(date))
		}
		return apperr.SlotUnavailable("%s at %s is not a bookable start for a %d minute appointment", calendar.FormatDate(date), t, duration)
	}

	claims, err := tx.ActiveClaims(ctx, date)
	if err != nil {
		return err
	}
	if s.query.Claimed(t, duration, claims) {
		return apperr.SlotConflict("%s at %s is already booked", calendar.FormatDate(date), t)
	}
	return nil
}
