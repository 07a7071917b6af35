// Package analytics is the pure computation kernel: cognitive load,
// context-switch cost, deep-work detection, temporal risk, and
// probabilistic availability. Every function is deterministic and
// side-effect free; callers pass the snapshot and the clock.
package analytics

import (
	"sort"
	"time"

	"github.com/ramxx/tminus/internal/store/domain"
)

// WorkingHours bounds the analyzable part of a day.
type WorkingHours struct {
	// Days are ISO weekdays, 1 = Monday … 7 = Sunday.
	Days []int
	// StartMinute and EndMinute are minutes from local midnight.
	StartMinute int
	EndMinute   int
	Location    *time.Location
}

// DefaultWorkingHours is Monday–Friday 09:00–17:00 UTC.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{
		Days:        []int{1, 2, 3, 4, 5},
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		Location:    time.UTC,
	}
}

// MinutesPerDay returns the working span length.
func (wh WorkingHours) MinutesPerDay() int {
	if wh.EndMinute <= wh.StartMinute {
		return 0
	}
	return wh.EndMinute - wh.StartMinute
}

// IsWorkingDay reports whether the given day is a working day.
func (wh WorkingHours) IsWorkingDay(day time.Time) bool {
	iso := int(day.Weekday())
	if iso == 0 {
		iso = 7
	}
	for _, d := range wh.Days {
		if d == iso {
			return true
		}
	}
	return false
}

// DayWindow returns the working window of a calendar day, empty on
// non-working days.
func (wh WorkingHours) DayWindow(day time.Time) (time.Time, time.Time) {
	loc := wh.Location
	if loc == nil {
		loc = time.UTC
	}
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	if !wh.IsWorkingDay(midnight) {
		return midnight, midnight
	}
	return midnight.Add(time.Duration(wh.StartMinute) * time.Minute),
		midnight.Add(time.Duration(wh.EndMinute) * time.Minute)
}

// activeEvents filters to non-cancelled opaque events overlapping the
// window, sorted by start.
func activeEvents(events []*domain.CanonicalEvent, start, end time.Time) []*domain.CanonicalEvent {
	var out []*domain.CanonicalEvent
	for _, ev := range events {
		if ev.IsCancelled() || !ev.IsOpaque() {
			continue
		}
		if ev.Overlaps(start, end) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// clampWindow clips an event to [start, end].
func clampWindow(ev *domain.CanonicalEvent, start, end time.Time) (time.Time, time.Time) {
	s, e := ev.Start, ev.End
	if s.Before(start) {
		s = start
	}
	if e.After(end) {
		e = end
	}
	return s, e
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
