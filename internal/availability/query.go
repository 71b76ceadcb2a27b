// Package availability answers which start times remain bookable on a day,
// combining the calendar, the slot generator and the reservations already held.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/slots"
)

// Mode selects how an existing reservation blocks a candidate start time.
type Mode string

const (
	// ModeExact blocks only the identical start time.
	ModeExact Mode = "exact"
	// ModeOverlap blocks any start whose interval intersects a reservation.
	ModeOverlap Mode = "overlap"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExact, ModeOverlap:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown conflict mode %q", s)
}

// Claim is the start and length of an active reservation.
type Claim struct {
	Time     calendar.TimeOfDay
	Duration int
}

// ClaimReader lists active reservations for a date.
type ClaimReader interface {
	ActiveClaims(ctx context.Context, date time.Time) ([]Claim, error)
}

type Result struct {
	Date  time.Time
	Open  bool
	Slots []calendar.TimeOfDay
	// Warning carries a configuration error for a day treated as closed.
	Warning error
}

type Query struct {
	granularity int
	mode        Mode
}

func NewQuery(granularity int, mode Mode) *Query {
	if granularity <= 0 {
		granularity = slots.DefaultGranularity
	}
	if mode == "" {
		mode = ModeExact
	}
	return &Query{granularity: granularity, mode: mode}
}

func (q *Query) Granularity() int { return q.granularity }

func (q *Query) Mode() Mode { return q.mode }

// Candidates returns every generated start for date, ignoring reservations.
func (q *Query) Candidates(cal *calendar.Calendar, date time.Time, duration int) Result {
	res := Result{Date: calendar.DateOf(date)}
	day, err := cal.ScheduleFor(date)
	if err != nil {
		res.Warning = err
		return res
	}
	if !day.IsOpen() {
		return res
	}
	res.Open = true
	res.Slots = slots.Generate(day, q.granularity, duration)
	return res
}

// Slots returns the candidates for date minus those claimed by active reservations.
func (q *Query) Slots(ctx context.Context, cal *calendar.Calendar, date time.Time, duration int, reader ClaimReader) (Result, error) {
	res := q.Candidates(cal, date, duration)
	if !res.Open || len(res.Slots) == 0 {
		return res, nil
	}

	claims, err := reader.ActiveClaims(ctx, res.Date)
	if err != nil {
		return Result{}, fmt.Errorf("load reservations for %s: %w", calendar.FormatDate(res.Date), err)
	}
	if len(claims) == 0 {
		return res, nil
	}

	free := make([]calendar.TimeOfDay, 0, len(res.Slots))
	for _, t := range res.Slots {
		if !q.Claimed(t, duration, claims) {
			free = append(free, t)
		}
	}
	res.Slots = free
	return res, nil
}

// Claimed reports whether a booking at start for duration collides with claims.
func (q *Query) Claimed(start calendar.TimeOfDay, duration int, claims []Claim) bool {
	want := slots.Interval{Start: start, Duration: duration}
	for _, c := range claims {
		switch q.mode {
		case ModeOverlap:
			if want.Overlaps(slots.Interval{Start: c.Time, Duration: c.Duration}) {
				return true
			}
		default:
			if c.Time == start {
				return true
			}
		}
	}
	return false
}

// Days splits the inclusive range [from, to] into open and closed dates.
// Misconfigured days count as closed and are reported in warnings.
func (q *Query) Days(cal *calendar.Calendar, from, to time.Time) (open, closed []time.Time, warnings []error) {
	for d := calendar.DateOf(from); !d.After(calendar.DateOf(to)); d = d.AddDate(0, 0, 1) {
		ok, err := cal.IsOpen(d)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", calendar.FormatDate(d), err))
		}
		if ok {
			open = append(open, d)
		} else {
			closed = append(closed, d)
		}
	}
	return open, closed, warnings
}
