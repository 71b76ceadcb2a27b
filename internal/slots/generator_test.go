package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

func tod(s string) calendar.TimeOfDay {
	return calendar.MustParseTimeOfDay(s)
}

func times(ss ...string) []calendar.TimeOfDay {
	out := make([]calendar.TimeOfDay, len(ss))
	for i, s := range ss {
		out[i] = tod(s)
	}
	return out
}

func TestGenerate(t *testing.T) {
	morning := calendar.Window{Open: tod("09:00"), Close: tod("13:00")}
	afternoon := calendar.Window{Open: tod("16:00"), Close: tod("18:00")}

	tests := []struct {
		name        string
		day         calendar.DaySchedule
		granularity int
		duration    int
		want        []calendar.TimeOfDay
	}{
		{
			name:        "hour long service stops at noon",
			day:         calendar.OpenDay(morning, nil),
			granularity: 30,
			duration:    60,
			want:        times("09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00"),
		},
		{
			name:        "short service fills the window",
			day:         calendar.OpenDay(morning, nil),
			granularity: 30,
			duration:    30,
			want:        times("09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00", "12:30"),
		},
		{
			name:        "morning before afternoon and no straddling",
			day:         calendar.OpenDay(morning, &afternoon),
			granularity: 30,
			duration:    90,
			want:        times("09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "16:00", "16:30"),
		},
		{
			name:        "service longer than window",
			day:         calendar.OpenDay(calendar.Window{Open: tod("09:00"), Close: tod("10:00")}, nil),
			granularity: 30,
			duration:    120,
			want:        nil,
		},
		{
			name:        "closed day ignores windows",
			day:         calendar.DaySchedule{Closed: true, Morning: &morning},
			granularity: 30,
			duration:    30,
			want:        nil,
		},
		{
			name:        "zero granularity",
			day:         calendar.OpenDay(morning, nil),
			granularity: 0,
			duration:    30,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.day, tt.granularity, tt.duration))
		})
	}
}

func TestSeqIsRestartable(t *testing.T) {
	seq := Seq(calendar.OpenDay(calendar.Window{Open: tod("09:00"), Close: tod("11:00")}, nil), 30, 30)

	var first []calendar.TimeOfDay
	for s := range seq {
		first = append(first, s)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, times("09:00", "09:30"), first)

	var all []calendar.TimeOfDay
	for s := range seq {
		all = append(all, s)
	}
	assert.Equal(t, times("09:00", "09:30", "10:00", "10:30"), all)
}

func TestIntervalOverlaps(t *testing.T) {
	a := Interval{Start: tod("10:00"), Duration: 60}

	assert.True(t, a.Overlaps(Interval{Start: tod("10:30"), Duration: 30}))
	assert.True(t, a.Overlaps(Interval{Start: tod("09:30"), Duration: 45}))
	assert.False(t, a.Overlaps(Interval{Start: tod("11:00"), Duration: 30}))
	assert.False(t, a.Overlaps(Interval{Start: tod("09:00"), Duration: 60}))
}
