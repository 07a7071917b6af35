package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramxx/tminus/internal/store/domain"
)

func TestBusyProbability_ByStatus(t *testing.T) {
	confirmed := testEvent("Sync", day(9, 0), day(10, 0))
	assert.Equal(t, 0.95, BusyProbability(confirmed, 0))

	tentative := testEvent("Sync", day(9, 0), day(10, 0))
	tentative.Status = domain.EventStatusTentative
	assert.Equal(t, 0.50, BusyProbability(tentative, 0))

	cancelled := testEvent("Sync", day(9, 0), day(10, 0))
	cancelled.Status = domain.EventStatusCancelled
	assert.Equal(t, 0.0, BusyProbability(cancelled, 0))
}

func TestBusyProbability_RecurringCancellationHistory(t *testing.T) {
	recurring := testEvent("Weekly sync", day(9, 0), day(10, 0))
	recurring.RecurrenceRule = "FREQ=WEEKLY"

	// Half of the series' instances historically cancelled.
	assert.InDelta(t, 0.95*0.5, BusyProbability(recurring, 0.5), 0.0001)

	// No rule means the history does not apply.
	oneOff := testEvent("Sync", day(9, 0), day(10, 0))
	assert.Equal(t, 0.95, BusyProbability(oneOff, 0.5))
}

func TestCancelRates(t *testing.T) {
	a1 := testEvent("Weekly sync", day(9, 0), day(10, 0))
	a1.ICalUID = "series@example.com"
	a2 := testEvent("Weekly sync", day(9, 0), day(10, 0))
	a2.ICalUID = "series@example.com"
	a2.Status = domain.EventStatusCancelled
	b := testEvent("One-off", day(11, 0), day(12, 0))
	b.ICalUID = "oneoff@example.com"

	rates := CancelRates([]*domain.CanonicalEvent{a1, a2, b})
	assert.InDelta(t, 0.5, rates["series@example.com"], 0.0001)
	assert.NotContains(t, rates, "oneoff@example.com")
}

func TestComputeAvailability_SlotProbabilities(t *testing.T) {
	events := []*domain.CanonicalEvent{
		testEvent("Sync", day(9, 0), day(10, 0)),
	}

	result := ComputeAvailability(events, day(9, 0), day(11, 0), 60)
	require.Len(t, result.Slots, 2)

	// 09:00-10:00 overlaps the confirmed event.
	assert.InDelta(t, 0.05, result.Slots[0].PFree, 0.0001)
	// 10:00-11:00 is clear.
	assert.Equal(t, 1.0, result.Slots[1].PFree)
}

func TestComputeAvailability_OverlappingEventsMultiply(t *testing.T) {
	events := []*domain.CanonicalEvent{
		testEvent("Sync A", day(9, 0), day(10, 0)),
		testEvent("Sync B", day(9, 30), day(10, 30)),
	}
	result := ComputeAvailability(events, day(9, 0), day(10, 0), 60)
	require.Len(t, result.Slots, 1)
	assert.InDelta(t, 0.05*0.05, result.Slots[0].PFree, 0.0001)
}

func TestComputeAvailability_RecurringExpansion(t *testing.T) {
	weekly := testEvent("Weekly sync", day(9, 0), day(10, 0))
	weekly.RecurrenceRule = "FREQ=WEEKLY;COUNT=4"

	// The second occurrence lands one week later.
	nextWeek := day(9, 0).Add(7 * 24 * time.Hour)
	result := ComputeAvailability([]*domain.CanonicalEvent{weekly}, nextWeek, nextWeek.Add(time.Hour), 60)
	require.Len(t, result.Slots, 1)
	assert.InDelta(t, 0.05, result.Slots[0].PFree, 0.0001)
}

func TestMultiParticipantFree_Product(t *testing.T) {
	assert.InDelta(t, 0.25, MultiParticipantFree([]float64{0.5, 0.5}), 0.0001)
	assert.Equal(t, 1.0, MultiParticipantFree(nil))
	assert.Equal(t, 0.0, MultiParticipantFree([]float64{1, 0}))
}
