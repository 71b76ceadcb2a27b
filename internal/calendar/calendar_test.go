package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
)

func window(open, close string) Window {
	return Window{Open: MustParseTimeOfDay(open), Close: MustParseTimeOfDay(close)}
}

func weekdaysOpen() map[Weekday]DaySchedule {
	afternoon := window("16:00", "20:00")
	weekly := make(map[Weekday]DaySchedule)
	for _, d := range Weekdays() {
		if d == Saturday || d == Sunday {
			weekly[d] = ClosedDay()
			continue
		}
		weekly[d] = OpenDay(window("09:00", "13:00"), &afternoon)
	}
	return weekly
}

func date(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWeekdayOf(t *testing.T) {
	tests := []struct {
		date string
		want Weekday
	}{
		{"2026-10-12", Monday},
		{"2026-10-13", Tuesday},
		{"2026-10-17", Saturday},
		{"2026-10-18", Sunday},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekdayOf(date(tt.date)))
		})
	}
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday(" Tuesday ")
	require.NoError(t, err)
	assert.Equal(t, Tuesday, d)

	_, err = ParseWeekday("martes")
	assert.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, tod.Minutes())
	assert.Equal(t, "09:30", tod.String())

	for _, bad := range []string{"", "9h", "25:00", "12:60"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestOverridePrecedence(t *testing.T) {
	cal := New(weekdaysOpen())
	cal.SetOverride(Override{Date: date("2026-10-13"), Reason: "holiday", Schedule: ClosedDay()})

	open, err := cal.IsOpen(date("2026-10-13"))
	require.NoError(t, err)
	assert.False(t, open, "overridden tuesday must be closed")

	for _, other := range []string{"2026-10-06", "2026-10-20", "2026-10-27"} {
		open, err := cal.IsOpen(date(other))
		require.NoError(t, err)
		assert.True(t, open, other)
	}
}

func TestOverrideOpensClosedDay(t *testing.T) {
	cal := New(weekdaysOpen())
	cal.SetOverride(Override{Date: date("2026-10-17"), Schedule: OpenDay(window("10:00", "14:00"), nil)})

	s, err := cal.ScheduleFor(date("2026-10-17"))
	require.NoError(t, err)
	assert.Equal(t, []Window{window("10:00", "14:00")}, s.Windows())
}

func TestSetOverrideLastWriteWins(t *testing.T) {
	cal := New(weekdaysOpen())
	cal.SetOverride(Override{Date: date("2026-10-14"), Reason: "first", Schedule: ClosedDay()})
	cal.SetOverride(Override{Date: date("2026-10-14").Add(15 * time.Hour), Reason: "second", Schedule: OpenDay(window("10:00", "12:00"), nil)})

	overrides := cal.Overrides()
	require.Len(t, overrides, 1)
	assert.Equal(t, "second", overrides[0].Reason)

	open, err := cal.IsOpen(date("2026-10-14"))
	require.NoError(t, err)
	assert.True(t, open)

	assert.True(t, cal.RemoveOverride(date("2026-10-14")))
	assert.False(t, cal.RemoveOverride(date("2026-10-14")))
}

func TestMissingWeekdayIsClosedWithConfigurationError(t *testing.T) {
	weekly := weekdaysOpen()
	delete(weekly, Wednesday)
	cal := New(weekly)

	open, err := cal.IsOpen(date("2026-10-14"))
	assert.False(t, open)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	assert.ErrorIs(t, cal.Validate(), apperr.ErrConfiguration)
}

func TestClosedIgnoresWindows(t *testing.T) {
	m := window("09:00", "13:00")
	s := DaySchedule{Closed: true, Morning: &m}
	assert.Empty(t, s.Windows())
	assert.False(t, s.IsOpen())
}

func TestDayScheduleValidate(t *testing.T) {
	afternoon := window("12:00", "18:00")
	tests := []struct {
		name    string
		s       DaySchedule
		wantErr bool
	}{
		{"closed", ClosedDay(), false},
		{"morning only", OpenDay(window("09:00", "13:00"), nil), false},
		{"inverted window", OpenDay(window("13:00", "09:00"), nil), true},
		{"overlapping windows", OpenDay(window("09:00", "13:00"), &afternoon), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cal := New(weekdaysOpen())
	cal.SetOverride(Override{Date: date("2026-10-13"), Schedule: ClosedDay()})

	cp := cal.Clone()
	cp.Weekly[Monday].Morning.Open = MustParseTimeOfDay("11:00")
	cp.RemoveOverride(date("2026-10-13"))

	assert.Equal(t, "09:00", cal.Weekly[Monday].Morning.Open.String())
	_, ok := cal.Override(date("2026-10-13"))
	assert.True(t, ok)
}
