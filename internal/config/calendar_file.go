package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

// CalendarFile is the YAML shape of the opening calendar.
//
//	weekly:
//	  monday: {morning: {open: "09:00", close: "13:00"}, afternoon: {open: "16:00", close: "20:00"}}
//	  sunday: {closed: true}
//	overrides:
//	  - {date: "2026-12-25", reason: "Christmas", closed: true}
type CalendarFile struct {
	Weekly    map[string]DayFile `yaml:"weekly"`
	Overrides []OverrideFile     `yaml:"overrides"`
}

type DayFile struct {
	Closed    bool        `yaml:"closed"`
	Morning   *WindowFile `yaml:"morning"`
	Afternoon *WindowFile `yaml:"afternoon"`
}

type WindowFile struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

type OverrideFile struct {
	Date    string `yaml:"date"`
	Reason  string `yaml:"reason"`
	DayFile `yaml:",inline"`
}

// LoadCalendarFile reads and validates a calendar from path.
// ${ENV_VAR} placeholders are expanded before parsing.
func LoadCalendarFile(path string) (*calendar.Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calendar file: %w", err)
	}
	defer f.Close()

	cal, err := ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("calendar file %s: %w", path, err)
	}
	return cal, nil
}

func ParseCalendar(r io.Reader) (*calendar.Calendar, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	var file CalendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return file.Calendar()
}

// Calendar converts the file into a validated calendar. Later overrides for
// the same date replace earlier ones.
func (f CalendarFile) Calendar() (*calendar.Calendar, error) {
	weekly := make(map[calendar.Weekday]calendar.DaySchedule, len(f.Weekly))
	for name, day := range f.Weekly {
		wd, err := calendar.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if _, dup := weekly[wd]; dup {
			return nil, fmt.Errorf("weekday %s listed twice", wd)
		}
		s, err := day.schedule()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", wd, err)
		}
		weekly[wd] = s
	}

	cal := calendar.New(weekly)
	for _, o := range f.Overrides {
		date, err := calendar.ParseDate(o.Date)
		if err != nil {
			return nil, err
		}
		s, err := o.schedule()
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", o.Date, err)
		}
		cal.SetOverride(calendar.Override{Date: date, Reason: o.Reason, Schedule: s})
	}

	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

func (d DayFile) schedule() (calendar.DaySchedule, error) {
	if d.Closed {
		return calendar.ClosedDay(), nil
	}
	var s calendar.DaySchedule
	var err error
	if s.Morning, err = d.Morning.window(); err != nil {
		return s, err
	}
	if s.Afternoon, err = d.Afternoon.window(); err != nil {
		return s, err
	}
	if s.Morning == nil && s.Afternoon == nil {
		return calendar.ClosedDay(), nil
	}
	return s, s.Validate()
}

func (w *WindowFile) window() (*calendar.Window, error) {
	if w == nil {
		return nil, nil
	}
	open, err := calendar.ParseTimeOfDay(w.Open)
	if err != nil {
		return nil, err
	}
	closing, err := calendar.ParseTimeOfDay(w.Close)
	if err != nil {
		return nil, err
	}
	return &calendar.Window{Open: open, Close: closing}, nil
}

// DefaultCalendar opens Monday to Friday 09:00-13:00 and 16:00-20:00.
func DefaultCalendar() *calendar.Calendar {
	morning := calendar.Window{Open: calendar.MustParseTimeOfDay("09:00"), Close: calendar.MustParseTimeOfDay("13:00")}
	afternoon := calendar.Window{Open: calendar.MustParseTimeOfDay("16:00"), Close: calendar.MustParseTimeOfDay("20:00")}

	weekly := make(map[calendar.Weekday]calendar.DaySchedule, 7)
	for _, d := range calendar.Weekdays() {
		if d == calendar.Saturday || d == calendar.Sunday {
			weekly[d] = calendar.ClosedDay()
			continue
		}
		a := afternoon
		weekly[d] = calendar.OpenDay(morning, &a)
	}
	return calendar.New(weekly)
}
