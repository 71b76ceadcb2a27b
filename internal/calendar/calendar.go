// Package calendar models the business opening hours: a weekly pattern plus
// dated overrides. A Calendar is a plain value loaded per request and passed
// into every availability or booking call.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
)

// Window is a contiguous open interval [Open, Close) within a day.
type Window struct {
	Open  TimeOfDay `json:"open"`
	Close TimeOfDay `json:"close"`
}

func (w Window) Validate() error {
	if w.Open < 0 || w.Close > 24*60 {
		return fmt.Errorf("window %s-%s outside of the day", w.Open, w.Close)
	}
	if w.Open >= w.Close {
		return fmt.Errorf("window opens at %s but closes at %s", w.Open, w.Close)
	}
	return nil
}

// DaySchedule holds up to two windows. Windows are ignored when Closed is set.
type DaySchedule struct {
	Closed    bool    `json:"closed"`
	Morning   *Window `json:"morning,omitempty"`
	Afternoon *Window `json:"afternoon,omitempty"`
}

// ClosedDay returns a schedule for a day without opening hours.
func ClosedDay() DaySchedule {
	return DaySchedule{Closed: true}
}

// OpenDay builds a schedule from a morning window and an optional afternoon window.
func OpenDay(morning Window, afternoon *Window) DaySchedule {
	m := morning
	return DaySchedule{Morning: &m, Afternoon: afternoon}
}

// Windows returns the present windows, morning first. Empty for closed days.
func (s DaySchedule) Windows() []Window {
	if s.Closed {
		return nil
	}
	var out []Window
	if s.Morning != nil {
		out = append(out, *s.Morning)
	}
	if s.Afternoon != nil {
		out = append(out, *s.Afternoon)
	}
	return out
}

func (s DaySchedule) IsOpen() bool {
	return len(s.Windows()) > 0
}

func (s DaySchedule) Validate() error {
	if s.Closed {
		return nil
	}
	for _, w := range s.Windows() {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	if s.Morning != nil && s.Afternoon != nil && s.Morning.Close > s.Afternoon.Open {
		return fmt.Errorf("morning window %s-%s overlaps afternoon window %s-%s",
			s.Morning.Open, s.Morning.Close, s.Afternoon.Open, s.Afternoon.Close)
	}
	return nil
}

// Override replaces the weekly pattern for one calendar date.
type Override struct {
	Date     time.Time   `json:"date"`
	Reason   string      `json:"reason,omitempty"`
	Schedule DaySchedule `json:"schedule"`
}

type Calendar struct {
	Version   int64
	Weekly    map[Weekday]DaySchedule
	overrides map[string]Override
}

func New(weekly map[Weekday]DaySchedule) *Calendar {
	if weekly == nil {
		weekly = make(map[Weekday]DaySchedule, 7)
	}
	return &Calendar{
		Weekly:    weekly,
		overrides: make(map[string]Override),
	}
}

// SetOverride stores o for its date, replacing any earlier override for that date.
func (c *Calendar) SetOverride(o Override) {
	if c.overrides == nil {
		c.overrides = make(map[string]Override)
	}
	o.Date = DateOf(o.Date)
	c.overrides[FormatDate(o.Date)] = o
}

// RemoveOverride reports whether an override existed for date.
func (c *Calendar) RemoveOverride(date time.Time) bool {
	key := FormatDate(DateOf(date))
	if _, ok := c.overrides[key]; !ok {
		return false
	}
	delete(c.overrides, key)
	return true
}

func (c *Calendar) Override(date time.Time) (Override, bool) {
	o, ok := c.overrides[FormatDate(DateOf(date))]
	return o, ok
}

// Overrides returns every override ordered by date.
func (c *Calendar) Overrides() []Override {
	out := make([]Override, 0, len(c.overrides))
	for _, o := range c.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ScheduleFor resolves the schedule for date. An override for that exact date
// wins over the weekly pattern. When the weekly pattern lacks the weekday the
// day is reported closed together with a configuration error.
func (c *Calendar) ScheduleFor(date time.Time) (DaySchedule, error) {
	if o, ok := c.Override(date); ok {
		return o.Schedule, nil
	}
	wd := WeekdayOf(date)
	s, ok := c.Weekly[wd]
	if !ok {
		return ClosedDay(), apperr.Configuration("weekly schedule has no entry for %s", wd)
	}
	return s, nil
}

// IsOpen follows the same precedence as ScheduleFor.
func (c *Calendar) IsOpen(date time.Time) (bool, error) {
	s, err := c.ScheduleFor(date)
	return s.IsOpen(), err
}

// Validate checks that all seven weekdays are present and every window is well formed.
func (c *Calendar) Validate() error {
	for _, d := range Weekdays() {
		s, ok := c.Weekly[d]
		if !ok {
			return apperr.Configuration("weekly schedule has no entry for %s", d)
		}
		if err := s.Validate(); err != nil {
			return apperr.Configuration("%s: %v", d, err)
		}
	}
	for _, o := range c.overrides {
		if err := o.Schedule.Validate(); err != nil {
			return apperr.Configuration("override %s: %v", FormatDate(o.Date), err)
		}
	}
	return nil
}

func (c *Calendar) Clone() *Calendar {
	out := New(make(map[Weekday]DaySchedule, len(c.Weekly)))
	out.Version = c.Version
	for d, s := range c.Weekly {
		out.Weekly[d] = s.clone()
	}
	for k, o := range c.overrides {
		o.Schedule = o.Schedule.clone()
		out.overrides[k] = o
	}
	return out
}

func (s DaySchedule) clone() DaySchedule {
	out := DaySchedule{Closed: s.Closed}
	if s.Morning != nil {
		m := *s.Morning
		out.Morning = &m
	}
	if s.Afternoon != nil {
		a := *s.Afternoon
		out.Afternoon = &a
	}
	return out
}
