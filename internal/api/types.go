package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

type CreateAppointmentRequest struct {
	UserID         string   `json:"user_id,omitempty"`
	ServiceIDs     []string `json:"service_ids"`
	Date           string   `json:"date"`
	Time           string   `json:"time"`
	Notes          string   `json:"notes,omitempty"`
	AutoReschedule bool     `json:"auto_reschedule,omitempty"`
}

func (req CreateAppointmentRequest) toCore() (appointment.CreateRequest, error) {
	var out appointment.CreateRequest
	if req.UserID != "" {
		id, err := parseUUID(req.UserID, "user_id")
		if err != nil {
			return out, err
		}
		out.UserID = id
	}
	for _, raw := range req.ServiceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return out, apperr.Validation("service id %q is not a valid UUID", raw)
		}
		out.ServiceIDs = append(out.ServiceIDs, id)
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return out, err
	}
	tm, err := parseTime(req.Time)
	if err != nil {
		return out, err
	}
	out.Date = date
	out.Time = tm
	out.Notes = req.Notes
	out.AutoReschedule = req.AutoReschedule
	return out, nil
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RescheduleRequest without date asks for the next free slot.
type RescheduleRequest struct {
	Date string `json:"date,omitempty"`
	Time string `json:"time,omitempty"`
}

func (req RescheduleRequest) toCore() (appointment.RescheduleRequest, error) {
	if req.Date == "" && req.Time == "" {
		return appointment.RescheduleRequest{}, nil
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return appointment.RescheduleRequest{}, err
	}
	tm, err := parseTime(req.Time)
	if err != nil {
		return appointment.RescheduleRequest{}, err
	}
	return appointment.RescheduleRequest{Date: &date, Time: &tm}, nil
}

type AvailabilityResponse struct {
	Date     string   `json:"date"`
	Open     bool     `json:"open"`
	Duration int      `json:"duration_minutes"`
	Slots    []string `json:"slots"`
}

type DaysResponse struct {
	Days []string `json:"days"`
}

type ServiceResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Duration int       `json:"duration_minutes"`
	Price    float64   `json:"price"`
}

type CalendarResponse struct {
	Version   int64                                     `json:"version"`
	Weekly    map[calendar.Weekday]calendar.DaySchedule `json:"weekly"`
	Overrides []OverrideBody                            `json:"overrides"`
}

type UpdateCalendarResponse struct {
	Calendar   CalendarResponse             `json:"calendar"`
	Relocation appointment.RelocationReport `json:"relocation"`
}

// CalendarBody replaces the weekly pattern and the full override list.
type CalendarBody struct {
	Weekly    map[calendar.Weekday]calendar.DaySchedule `json:"weekly"`
	Overrides []OverrideBody                            `json:"overrides"`
}

type OverrideBody struct {
	Date     string               `json:"date,omitempty"`
	Reason   string               `json:"reason,omitempty"`
	Schedule calendar.DaySchedule `json:"schedule"`
}

func (b CalendarBody) toCalendar() (*calendar.Calendar, error) {
	cal := calendar.New(b.Weekly)
	for _, o := range b.Overrides {
		date, err := parseDate(o.Date)
		if err != nil {
			return nil, err
		}
		cal.SetOverride(calendar.Override{Date: date, Reason: o.Reason, Schedule: o.Schedule})
	}
	return cal, nil
}

func calendarResponse(cal *calendar.Calendar) CalendarResponse {
	resp := CalendarResponse{
		Version:   cal.Version,
		Weekly:    cal.Weekly,
		Overrides: []OverrideBody{},
	}
	for _, o := range cal.Overrides() {
		resp.Overrides = append(resp.Overrides, OverrideBody{
			Date:     calendar.FormatDate(o.Date),
			Reason:   o.Reason,
			Schedule: o.Schedule,
		})
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, apperr.Validation("date is required")
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return time.Time{}, apperr.Validation("%v", err)
	}
	return d, nil
}

func parseTime(s string) (calendar.TimeOfDay, error) {
	if s == "" {
		return 0, apperr.Validation("time is required")
	}
	t, err := calendar.ParseTimeOfDay(s)
	if err != nil {
		return 0, apperr.Validation("%v", err)
	}
	return t, nil
}

func formatDays(days []time.Time) DaysResponse {
	out := DaysResponse{Days: make([]string, 0, len(days))}
	for _, d := range days {
		out.Days = append(out.Days, calendar.FormatDate(d))
	}
	return out
}

func formatSlots(slots []calendar.TimeOfDay) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}

func parseStatuses(raw []string) ([]appointment.Status, error) {
	var out []appointment.Status
	for _, s := range raw {
		st := appointment.Status(s)
		if !st.Valid() {
			return nil, apperr.Validation("unknown status %q", s)
		}
		out = append(out, st)
	}
	return out, nil
}

func exportFilename(now time.Time) string {
	return fmt.Sprintf("appointments-%s.xlsx", now.Format("20060102-150405"))
}

func parseUUID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.Validation("%s must be a valid UUID", field)
	}
	return id, nil
}
