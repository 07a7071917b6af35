package analytics

import (
	"math"
	"time"

	"github.com/ramxx/tminus/internal/store/domain"
)

// CognitiveLoad is the load analysis for one day or week.
type CognitiveLoad struct {
	Score           int     `json:"score"`
	MeetingDensity  float64 `json:"meeting_density"`
	ContextSwitches int     `json:"context_switches"`
	DeepWorkBlocks  int     `json:"deep_work_blocks"`
	Fragmentation   int     `json:"fragmentation"`
}

// Deep-work and fragmentation thresholds.
const (
	deepWorkMinGap      = 120 * time.Minute
	fragmentationMaxGap = 60 * time.Minute
)

// ComputeCognitiveLoad scores the span [start, end) against the working
// hours. Days without events score zero.
//
// score = 0.40·density + 0.25·switch component + 0.15·fragmentation
// component + 0.20·deep-work penalty, each component normalized to 0–100.
func ComputeCognitiveLoad(events []*domain.CanonicalEvent, wh WorkingHours, start, end time.Time) CognitiveLoad {
	active := activeEvents(events, start, end)
	if len(active) == 0 {
		return CognitiveLoad{}
	}

	workingMinutes := 0
	busyMinutes := 0
	deepBlocks := 0
	fragments := 0

	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		dayStart, dayEnd := wh.DayWindow(day)
		if !dayEnd.After(dayStart) {
			continue
		}
		if dayStart.Before(start) {
			dayStart = start
		}
		if dayEnd.After(end) {
			dayEnd = end
		}
		if !dayEnd.After(dayStart) {
			continue
		}
		workingMinutes += int(dayEnd.Sub(dayStart).Minutes())

		dayEvents := activeEvents(active, dayStart, dayEnd)
		cursor := dayStart
		for _, ev := range dayEvents {
			s, e := clampWindow(ev, dayStart, dayEnd)
			if e.After(s) {
				busyMinutes += int(e.Sub(s).Minutes())
			}
			if s.After(cursor) {
				gap := s.Sub(cursor)
				if gap >= deepWorkMinGap {
					deepBlocks++
				} else if gap > 0 && gap < fragmentationMaxGap {
					fragments++
				}
			}
			if e.After(cursor) {
				cursor = e
			}
		}
		if dayEnd.After(cursor) {
			if gap := dayEnd.Sub(cursor); gap >= deepWorkMinGap {
				deepBlocks++
			}
		}
	}

	density := 0.0
	if workingMinutes > 0 {
		density = float64(busyMinutes) / float64(workingMinutes) * 100
		if density > 100 {
			density = 100
		}
	}

	switches := CountSwitches(active, start, end)

	switchComponent := math.Min(float64(switches), 15) * (100.0 / 15)
	fragComponent := math.Min(float64(fragments), 10) * (100.0 / 10)
	deepWorkPenalty := 100 - math.Min(float64(deepBlocks)*33, 100)

	score := 0.40*density + 0.25*switchComponent + 0.15*fragComponent + 0.20*deepWorkPenalty

	return CognitiveLoad{
		Score:           int(math.Round(clampScore(score))),
		MeetingDensity:  math.Round(density*10) / 10,
		ContextSwitches: switches,
		DeepWorkBlocks:  deepBlocks,
		Fragmentation:   fragments,
	}
}

// DailyLoads computes one load per calendar day across a span. Used by the
// temporal risk history.
func DailyLoads(events []*domain.CanonicalEvent, wh WorkingHours, start time.Time, days int) []CognitiveLoad {
	out := make([]CognitiveLoad, 0, days)
	for i := 0; i < days; i++ {
		dayStart := start.Add(time.Duration(i) * 24 * time.Hour)
		out = append(out, ComputeCognitiveLoad(events, wh, dayStart, dayStart.Add(24*time.Hour)))
	}
	return out
}
