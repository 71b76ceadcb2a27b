package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/metrics"
)

// maxResolveAttempts bounds how many candidates are tried when concurrent
// bookers keep taking the slot the resolver found.
const maxResolveAttempts = 5

// ConflictInput describes a booking that could not keep its requested slot.
type ConflictInput struct {
	// Original is the reservation being moved. Nil for a new booking.
	Original   *Reservation
	UserID     uuid.UUID
	ServiceIDs []uuid.UUID
	Date       time.Time
	Time       calendar.TimeOfDay
	Duration   int
	Notes      string
	// Displaced marks Original as having lost its slot. When no replacement
	// is found it is moved to needsRescheduling.
	Displaced bool
}

// RelocationReport summarises a sweep over reservations invalidated by a
// calendar change.
type RelocationReport struct {
	Moved             int `json:"moved"`
	NeedsRescheduling int `json:"needs_rescheduling"`
	// Resolved counts reservations that left needsRescheduling.
	Resolved int `json:"resolved"`
}

// FindNextAvailableSlot returns the earliest free start strictly after
// fromTime on fromDate, or on any of the following maxDays days. A negative
// maxDays uses the configured search window. The search is read only.
func (s *Service) FindNextAvailableSlot(ctx context.Context, fromDate time.Time, fromTime calendar.TimeOfDay, duration, maxDays int) (Candidate, bool, error) {
	found, err := s.findCandidates(ctx, fromDate, fromTime, duration, maxDays, 1)
	if err != nil || len(found) == 0 {
		return Candidate{}, false, err
	}
	return found[0], true, nil
}

func (s *Service) findCandidates(ctx context.Context, fromDate time.Time, fromTime calendar.TimeOfDay, duration, maxDays, limit int) ([]Candidate, error) {
	if duration < MinDuration || duration > MaxDuration {
		return nil, apperr.Validation("duration must be between %d and %d minutes", MinDuration, MaxDuration)
	}
	if maxDays < 0 {
		maxDays = s.cfg.ResolverMaxDays
	}

	fromDate = calendar.DateOf(fromDate)
	now := s.now().In(s.cfg.Location)
	today := calendar.DateOf(now)
	if fromDate.Before(today) {
		fromDate, fromTime = today, calendar.At(now)
	} else if fromDate.Equal(today) && fromTime < calendar.At(now) {
		fromTime = calendar.At(now)
	}
	last := s.horizonEnd(0)

	cal, err := s.loadCalendar(ctx)
	if err != nil {
		return nil, err
	}

	var found []Candidate
	for i := 0; i <= maxDays; i++ {
		date := fromDate.AddDate(0, 0, i)
		if date.After(last) {
			break
		}
		res, err := s.query.Slots(ctx, cal, date, duration, s.store)
		if err != nil {
			return nil, classify(err)
		}
		if res.Warning != nil {
			s.logger.Warn().Err(res.Warning).Str("date", calendar.FormatDate(date)).Msg("skipping misconfigured day")
			continue
		}
		for _, t := range res.Slots {
			if i == 0 && t <= fromTime {
				continue
			}
			found = append(found, Candidate{Date: date, Time: t})
			if len(found) == limit {
				return found, nil
			}
		}
	}
	return found, nil
}

// ResolveConflict books the earliest free slot after the requested one as a
// confirmed reservation. When in.Original is set it is cancelled in the same
// transaction, so the customer never holds two slots or none.
func (s *Service) ResolveConflict(ctx context.Context, in ConflictInput) (*Reservation, error) {
	candidates, err := s.findCandidates(ctx, in.Date, in.Time, in.Duration, -1, maxResolveAttempts)
	if err != nil {
		return nil, err
	}

	services, err := s.catalog.FindServicesByIDs(ctx, in.ServiceIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("service names unavailable for rescheduling notice")
	}

	from := Candidate{Date: calendar.DateOf(in.Date), Time: in.Time}
	for _, c := range candidates {
		now := s.now()
		r := &Reservation{
			ID:            uuid.New(),
			UserID:        in.UserID,
			ServiceIDs:    in.ServiceIDs,
			Date:          c.Date,
			Time:          c.Time,
			TotalDuration: in.Duration,
			Status:        StatusConfirmed,
			Notes:         rescheduleNote(in.Notes, from),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err := s.bookReplacing(ctx, r, in.Original)
		if isSlotTaken(err) {
			s.logger.Debug().Str("date", calendar.FormatDate(c.Date)).Stringer("time", c.Time).Msg("candidate taken, trying next")
			continue
		}
		if err != nil {
			metrics.IncReschedule("error")
			return nil, err
		}

		metrics.IncReschedule("rescheduled")
		payload := map[string]any{
			"from_date": calendar.FormatDate(from.Date),
			"from_time": from.Time.String(),
			"to_date":   calendar.FormatDate(r.Date),
			"to_time":   r.Time.String(),
		}
		if in.Original != nil {
			payload["original_id"] = in.Original.ID
			metrics.IncTransition(string(StatusCancelled))
			s.logEvent(ctx, in.Original.ID, EventAppointmentCancelled, map[string]any{
				"from":   in.Original.Status,
				"to":     StatusCancelled,
				"reason": "rescheduled",
			})
		}
		s.logEvent(ctx, r.ID, EventAppointmentRescheduled, payload)
		s.logger.Info().
			Stringer("appointment_id", r.ID).
			Str("from", calendar.FormatDate(from.Date)+" "+from.Time.String()).
			Str("to", calendar.FormatDate(r.Date)+" "+r.Time.String()).
			Msg("appointment rescheduled")

		s.sendReschedulingNotice(ctx, from, r, services)
		return r, nil
	}

	metrics.IncReschedule("unresolved")
	if in.Original != nil && in.Displaced && CanTransition(in.Original.Status, StatusNeedsRescheduling) {
		if _, err := s.transition(ctx, in.Original, StatusNeedsRescheduling, "no replacement slot available"); err != nil {
			return nil, err
		}
	}
	return nil, apperr.Unresolvable("no free slot within %d days after %s %s", s.cfg.ResolverMaxDays, calendar.FormatDate(from.Date), from.Time)
}

func rescheduleNote(notes string, from Candidate) string {
	note := fmt.Sprintf("[system] rescheduled from %s %s", calendar.FormatDate(from.Date), from.Time)
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

type RescheduleRequest struct {
	// Date and Time select an exact target. When Date is nil the next free
	// slot after the current one is used.
	Date *time.Time
	Time *calendar.TimeOfDay
}

// RescheduleAppointment moves a reservation to another slot. The old
// reservation is cancelled and a new confirmed one is created.
func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (*Reservation, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	original, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if !CanTransition(original.Status, StatusCancelled) {
		return nil, apperr.Validation("a %s appointment cannot be rescheduled", original.Status)
	}

	if req.Date == nil {
		return s.ResolveConflict(ctx, ConflictInput{
			Original:   original,
			UserID:     original.UserID,
			ServiceIDs: original.ServiceIDs,
			Date:       original.Date,
			Time:       original.Time,
			Duration:   original.TotalDuration,
			Notes:      original.Notes,
		})
	}
	if req.Time == nil {
		return nil, apperr.Validation("time is required with date")
	}

	date := calendar.DateOf(*req.Date)
	if err := s.checkHorizon(date); err != nil {
		return nil, err
	}
	from := Candidate{Date: original.Date, Time: original.Time}
	now := s.now()
	r := &Reservation{
		ID:            uuid.New(),
		UserID:        original.UserID,
		ServiceIDs:    original.ServiceIDs,
		Date:          date,
		Time:          *req.Time,
		TotalDuration: original.TotalDuration,
		Status:        StatusConfirmed,
		Notes:         rescheduleNote(original.Notes, from),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.bookReplacing(ctx, r, original); err != nil {
		return nil, err
	}

	metrics.IncReschedule("rescheduled")
	metrics.IncTransition(string(StatusCancelled))
	s.logEvent(ctx, original.ID, EventAppointmentCancelled, map[string]any{
		"from":   original.Status,
		"to":     StatusCancelled,
		"reason": "rescheduled",
	})
	s.logEvent(ctx, r.ID, EventAppointmentRescheduled, map[string]any{
		"original_id": original.ID,
		"from_date":   calendar.FormatDate(from.Date),
		"from_time":   from.Time.String(),
		"to_date":     calendar.FormatDate(r.Date),
		"to_time":     r.Time.String(),
	})

	services, err := s.catalog.FindServicesByIDs(ctx, r.ServiceIDs)
	if err != nil {
		s.logger.Warn().Err(err).Msg("service names unavailable for rescheduling notice")
	}
	s.sendReschedulingNotice(ctx, from, r, services)
	return r, nil
}

// ResolveOutstanding retries every reservation waiting in needsRescheduling
// and returns how many were moved.
func (s *Service) ResolveOutstanding(ctx context.Context) (int, error) {
	waiting, err := s.store.List(ctx, ListFilter{Statuses: []Status{StatusNeedsRescheduling}})
	if err != nil {
		return 0, classify(err)
	}

	moved := 0
	for i := range waiting {
		r := &waiting[i]
		_, err := s.ResolveConflict(ctx, ConflictInput{
			Original:   r,
			UserID:     r.UserID,
			ServiceIDs: r.ServiceIDs,
			Date:       r.Date,
			Time:       r.Time,
			Duration:   r.TotalDuration,
			Notes:      r.Notes,
		})
		switch {
		case err == nil:
			moved++
		case errors.Is(err, apperr.ErrUnresolvable):
		default:
			s.logger.Warn().Err(err).Stringer("appointment_id", r.ID).Msg("could not resolve appointment")
		}
		if ctx.Err() != nil {
			return moved, classify(ctx.Err())
		}
	}
	return moved, nil
}

// RelocateDisplaced moves every upcoming active reservation whose start is no
// longer offered by the current calendar.
func (s *Service) RelocateDisplaced(ctx context.Context) (RelocationReport, error) {
	var report RelocationReport

	cal, err := s.loadCalendar(ctx)
	if err != nil {
		return report, err
	}
	today := s.Today()
	upcoming, err := s.store.List(ctx, ListFilter{
		From:     &today,
		Statuses: []Status{StatusPending, StatusConfirmed},
	})
	if err != nil {
		return report, classify(err)
	}

	now := s.now().In(s.cfg.Location)
	for i := range upcoming {
		r := &upcoming[i]
		// Appointments that already started are history, whatever the calendar says now.
		if r.StartsAt(s.cfg.Location).Before(now) {
			continue
		}
		res := s.query.Candidates(cal, r.Date, r.TotalDuration)
		if slices.Contains(res.Slots, r.Time) {
			continue
		}

		_, err := s.ResolveConflict(ctx, ConflictInput{
			Original:   r,
			UserID:     r.UserID,
			ServiceIDs: r.ServiceIDs,
			Date:       r.Date,
			Time:       r.Time,
			Duration:   r.TotalDuration,
			Notes:      r.Notes,
			Displaced:  true,
		})
		switch {
		case err == nil:
			report.Moved++
		case errors.Is(err, apperr.ErrUnresolvable):
			report.NeedsRescheduling++
		default:
			s.logger.Warn().Err(err).Stringer("appointment_id", r.ID).Msg("could not relocate appointment")
		}
	}

	if report.Moved > 0 || report.NeedsRescheduling > 0 {
		s.logger.Info().
			Int("moved", report.Moved).
			Int("needs_rescheduling", report.NeedsRescheduling).
			Msg("relocated appointments after calendar change")
	}
	return report, nil
}
