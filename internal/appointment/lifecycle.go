package appointment

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/metrics"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNeedsRescheduling},
	StatusConfirmed:         {StatusCompleted, StatusCancelled, StatusNeedsRescheduling},
	StatusNeedsRescheduling: {StatusCancelled},
}

var errStatusChanged = errors.New("reservation status changed concurrently")

// CanTransition reports whether a reservation may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func eventFor(to Status) string {
	switch to {
	case StatusConfirmed:
		return EventAppointmentConfirmed
	case StatusCompleted:
		return EventAppointmentCompleted
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusNeedsRescheduling:
		return EventAppointmentNeedsRescheduling
	}
	return "APPOINTMENT_" + string(to)
}

// transition applies a single compare-and-set status change outside of any slot lock.
func (s *Service) transition(ctx context.Context, r *Reservation, to Status, reason string) (*Reservation, error) {
	if !CanTransition(r.Status, to) {
		return nil, apperr.Validation("cannot move appointment from %s to %s", r.Status, to)
	}
	updated, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, reason)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Transient(errStatusChanged, "appointment changed concurrently, retry")
	}
	if err != nil {
		return nil, classify(err)
	}

	metrics.IncTransition(string(to))
	s.logEvent(ctx, r.ID, eventFor(to), map[string]any{
		"from":   r.Status,
		"to":     to,
		"reason": reason,
	})
	return updated, nil
}

func (s *Service) requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return apperr.Permission("administrator role required")
	}
	return nil
}

// ConfirmAppointment moves a pending reservation to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return s.transition(ctx, r, StatusConfirmed, "")
}

// CompleteAppointment marks a pending or confirmed reservation as served.
func (s *Service) CompleteAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	return s.transition(ctx, r, StatusCompleted, "")
}

// CancelAppointment cancels a reservation on behalf of its owner or an
// administrator. Cancelling an already cancelled reservation returns it unchanged.
// An administrator cancellation frees the slot for reservations waiting on
// rescheduling, which are retried before returning.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !actor.IsAdmin() && r.UserID != actor.UserID {
		return nil, apperr.Permission("only the owner or an administrator can cancel this appointment")
	}
	if r.Status == StatusCancelled {
		return r, nil
	}
	if reason == "" {
		reason = "cancelled by user"
		if actor.IsAdmin() && r.UserID != actor.UserID {
			reason = "cancelled by administrator"
		}
	}

	wasActive := r.Status.Active()
	updated, err := s.transition(ctx, r, StatusCancelled, reason)
	if errors.Is(err, errStatusChanged) {
		current, getErr := s.store.GetReservation(ctx, id)
		if getErr == nil && current.Status == StatusCancelled {
			return current, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("appointment_id", id).
		Str("date", calendar.FormatDate(r.Date)).
		Stringer("time", r.Time).
		Str("reason", reason).
		Msg("appointment cancelled")

	if wasActive && actor.IsAdmin() {
		if _, err := s.ResolveOutstanding(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("rescheduling sweep after cancellation failed")
		}
	}
	return updated, nil
}
