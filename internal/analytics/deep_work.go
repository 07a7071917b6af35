package analytics

import (
	"time"

	"github.com/ramxx/tminus/internal/store/domain"
)

// DeepWorkBlock is one protected span with no opaque events.
type DeepWorkBlock struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
}

// ConsolidationSuggestion proposes merging scattered short meetings so the
// freed gaps form a qualifying deep-work block.
type ConsolidationSuggestion struct {
	Day                  time.Time `json:"day"`
	MeetingCount         int       `json:"meeting_count"`
	EstimatedGainMinutes int       `json:"estimated_gain_minutes"`
}

// DeepWorkResult is the weekly deep-work analysis.
type DeepWorkResult struct {
	Blocks               []DeepWorkBlock           `json:"blocks"`
	TotalProtectedHours  float64                   `json:"total_protected_hours"`
	ProtectedHoursTarget float64                   `json:"protected_hours_target"`
	Suggestions          []ConsolidationSuggestion `json:"suggestions"`
}

// shortMeeting bounds what counts as a consolidation candidate.
const shortMeeting = 60 * time.Minute

// DetectDeepWork finds maximal gaps of at least two hours inside working
// hours across [start, end). The weekly target is four hours per working
// day.
func DetectDeepWork(events []*domain.CanonicalEvent, wh WorkingHours, start, end time.Time) DeepWorkResult {
	result := DeepWorkResult{}
	workingDays := 0

	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		dayStart, dayEnd := wh.DayWindow(day)
		if !dayEnd.After(dayStart) {
			continue
		}
		workingDays++

		dayEvents := activeEvents(events, dayStart, dayEnd)

		cursor := dayStart
		for _, ev := range dayEvents {
			s, e := clampWindow(ev, dayStart, dayEnd)
			if s.After(cursor) {
				if gap := s.Sub(cursor); gap >= deepWorkMinGap {
					result.Blocks = append(result.Blocks, DeepWorkBlock{
						Start:   cursor,
						End:     s,
						Minutes: int(gap.Minutes()),
					})
				}
			}
			if e.After(cursor) {
				cursor = e
			}
		}
		if dayEnd.After(cursor) {
			if gap := dayEnd.Sub(cursor); gap >= deepWorkMinGap {
				result.Blocks = append(result.Blocks, DeepWorkBlock{
					Start:   cursor,
					End:     dayEnd,
					Minutes: int(gap.Minutes()),
				})
			}
		}

		if suggestion := consolidationForDay(dayEvents, dayStart, dayEnd); suggestion != nil {
			result.Suggestions = append(result.Suggestions, *suggestion)
		}
	}

	for _, b := range result.Blocks {
		result.TotalProtectedHours += float64(b.Minutes) / 60
	}
	result.ProtectedHoursTarget = 4 * float64(workingDays)
	return result
}

// consolidationForDay proposes merging three or more short scattered
// meetings when the recovered between-meeting gaps would form a
// qualifying block.
func consolidationForDay(dayEvents []*domain.CanonicalEvent, dayStart, dayEnd time.Time) *ConsolidationSuggestion {
	var shorts []*domain.CanonicalEvent
	for _, ev := range dayEvents {
		if ev.Duration() <= shortMeeting {
			shorts = append(shorts, ev)
		}
	}
	if len(shorts) < 3 {
		return nil
	}

	gain := 0
	for i := 1; i < len(shorts); i++ {
		gap := shorts[i].Start.Sub(shorts[i-1].End)
		if gap > 0 {
			gain += int(gap.Minutes())
		}
	}
	if time.Duration(gain)*time.Minute < deepWorkMinGap {
		return nil
	}

	day := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, 0, 0, 0, dayStart.Location())
	return &ConsolidationSuggestion{
		Day:                  day,
		MeetingCount:         len(shorts),
		EstimatedGainMinutes: gain,
	}
}
