// Package slots turns a day's opening windows into bookable start times.
package slots

import (
	"iter"
	"slices"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

// DefaultGranularity is the step between consecutive start times, in minutes.
const DefaultGranularity = 30

// Seq yields start times for day in ascending order. Each window is walked
// from its opening time in granularity steps up to close-granularity, and a
// start is yielded only if start+duration still ends inside the same window.
// A closed day, or a non positive granularity or duration, yields nothing.
func Seq(day calendar.DaySchedule, granularity, duration int) iter.Seq[calendar.TimeOfDay] {
	return func(yield func(calendar.TimeOfDay) bool) {
		if granularity <= 0 || duration <= 0 {
			return
		}
		for _, w := range day.Windows() {
			last := w.Close.Add(-granularity)
			for t := w.Open; t <= last; t = t.Add(granularity) {
				if t.Add(duration) > w.Close {
					continue
				}
				if !yield(t) {
					return
				}
			}
		}
	}
}

// Generate collects Seq into a slice.
func Generate(day calendar.DaySchedule, granularity, duration int) []calendar.TimeOfDay {
	return slices.Collect(Seq(day, granularity, duration))
}

// Interval is an occupied stretch of a day.
type Interval struct {
	Start    calendar.TimeOfDay
	Duration int
}

func (i Interval) End() calendar.TimeOfDay {
	return i.Start.Add(i.Duration)
}

// Overlaps reports whether the half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End() && other.Start < i.End()
}
