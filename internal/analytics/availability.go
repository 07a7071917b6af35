package analytics

import (
	"math"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ramxx/tminus/internal/store/domain"
)

// Busy probability bases per event status.
const (
	busyConfirmed = 0.95
	busyTentative = 0.50
)

// Slot is one availability window with its free probability.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	PFree float64   `json:"p_free"`
}

// AvailabilityResult is the slot grid for one participant.
type AvailabilityResult struct {
	GranularityMinutes int    `json:"granularity_minutes"`
	Slots              []Slot `json:"slots"`
}

// BusyProbability returns an event's base busy probability scaled by its
// recurrence cancellation history.
func BusyProbability(ev *domain.CanonicalEvent, cancelRate float64) float64 {
	var base float64
	switch ev.Status {
	case domain.EventStatusConfirmed:
		base = busyConfirmed
	case domain.EventStatusTentative:
		base = busyTentative
	default:
		return 0
	}
	if ev.RecurrenceRule != "" && cancelRate > 0 {
		if cancelRate > 1 {
			cancelRate = 1
		}
		base *= 1 - cancelRate
	}
	return base
}

// CancelRates computes, per iCalUID, the share of cancelled rows among all
// rows carrying that UID. Recurrence exceptions surface as sibling rows,
// so this is the observable cancellation history of a series.
func CancelRates(events []*domain.CanonicalEvent) map[string]float64 {
	total := make(map[string]int)
	cancelled := make(map[string]int)
	for _, ev := range events {
		if ev.ICalUID == "" {
			continue
		}
		total[ev.ICalUID]++
		if ev.IsCancelled() {
			cancelled[ev.ICalUID]++
		}
	}

	rates := make(map[string]float64, len(total))
	for uid, n := range total {
		if n > 0 && cancelled[uid] > 0 {
			rates[uid] = float64(cancelled[uid]) / float64(n)
		}
	}
	return rates
}

// occurrence is one concrete busy interval with its probability.
type occurrence struct {
	start time.Time
	end   time.Time
	pBusy float64
}

// ComputeAvailability builds the probabilistic free/busy grid over
// [start, end) at the given granularity. Recurring events are expanded
// into their occurrences inside the range.
func ComputeAvailability(events []*domain.CanonicalEvent, start, end time.Time, granularityMinutes int) AvailabilityResult {
	if granularityMinutes <= 0 {
		granularityMinutes = 30
	}
	granularity := time.Duration(granularityMinutes) * time.Minute
	rates := CancelRates(events)

	var occurrences []occurrence
	for _, ev := range events {
		pBusy := BusyProbability(ev, rates[ev.ICalUID])
		if pBusy == 0 {
			continue
		}
		for _, occ := range expandOccurrences(ev, start, end) {
			occurrences = append(occurrences, occurrence{start: occ, end: occ.Add(ev.Duration()), pBusy: pBusy})
		}
	}

	result := AvailabilityResult{GranularityMinutes: granularityMinutes}
	for slotStart := start; slotStart.Before(end); slotStart = slotStart.Add(granularity) {
		slotEnd := slotStart.Add(granularity)
		if slotEnd.After(end) {
			slotEnd = end
		}

		pFree := 1.0
		for _, occ := range occurrences {
			if occ.start.Before(slotEnd) && slotStart.Before(occ.end) {
				pFree *= 1 - occ.pBusy
			}
		}
		result.Slots = append(result.Slots, Slot{
			Start: slotStart,
			End:   slotEnd,
			PFree: math.Round(pFree*10000) / 10000,
		})
	}
	return result
}

// expandOccurrences returns the start times of an event's instances inside
// [rangeStart, rangeEnd). Non-recurring events contribute themselves when
// they overlap the range.
func expandOccurrences(ev *domain.CanonicalEvent, rangeStart, rangeEnd time.Time) []time.Time {
	if ev.RecurrenceRule == "" {
		if ev.Overlaps(rangeStart, rangeEnd) {
			return []time.Time{ev.Start}
		}
		return nil
	}

	rule, err := rrule.StrToRRule(ev.RecurrenceRule)
	if err != nil {
		// An unparseable rule degrades to the literal instance.
		if ev.Overlaps(rangeStart, rangeEnd) {
			return []time.Time{ev.Start}
		}
		return nil
	}
	rule.DTStart(ev.Start)

	// Instances starting before the range can still overlap it.
	return rule.Between(rangeStart.Add(-ev.Duration()), rangeEnd, true)
}

// MultiParticipantFree combines independent per-participant free
// probabilities into a joint probability.
func MultiParticipantFree(pFree []float64) float64 {
	p := 1.0
	for _, v := range pFree {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		p *= v
	}
	return p
}
