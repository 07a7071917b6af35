package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/store/domain"
)

func testEvent(title string, start, end time.Time) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		ID:           shared.NewID(shared.PrefixEvent),
		Title:        title,
		Start:        start,
		End:          end,
		Status:       domain.EventStatusConfirmed,
		Transparency: domain.TransparencyOpaque,
	}
}

func day(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC) // a Monday
}

func TestComputeCognitiveLoad_EmptyDayScoresZero(t *testing.T) {
	load := ComputeCognitiveLoad(nil, DefaultWorkingHours(), day(0, 0), day(0, 0).Add(24*time.Hour))
	assert.Equal(t, 0, load.Score)
	assert.Equal(t, 0.0, load.MeetingDensity)
}

func TestComputeCognitiveLoad_PackedDay(t *testing.T) {
	// Seven consecutive one-hour meetings from 09:00 to 16:00 with
	// diverse titles, working hours 09:00-17:00.
	titles := []string{
		"Sprint standup",
		"Client demo",
		"Interview: backend candidate",
		"Focus: quarterly essay",
		"Budget planning",
		"Deploy review",
		"Pipeline sync",
	}
	var events []*domain.CanonicalEvent
	for i, title := range titles {
		events = append(events, testEvent(title, day(9+i, 0), day(10+i, 0)))
	}

	load := ComputeCognitiveLoad(events, DefaultWorkingHours(), day(0, 0), day(0, 0).Add(24*time.Hour))

	assert.GreaterOrEqual(t, load.Score, 60)
	assert.Equal(t, 6, load.ContextSwitches)
	assert.LessOrEqual(t, load.DeepWorkBlocks, 1)
	assert.GreaterOrEqual(t, load.MeetingDensity, 75.0)
	assert.LessOrEqual(t, load.MeetingDensity, 90.0)
}

func TestComputeCognitiveLoad_DeepWorkBlocks(t *testing.T) {
	// One morning meeting leaves a qualifying afternoon gap.
	events := []*domain.CanonicalEvent{
		testEvent("Sprint standup", day(9, 0), day(9, 30)),
	}

	load := ComputeCognitiveLoad(events, DefaultWorkingHours(), day(0, 0), day(0, 0).Add(24*time.Hour))

	// 09:30-17:00 is one 450-minute protected block.
	assert.Equal(t, 1, load.DeepWorkBlocks)
	assert.Equal(t, 0, load.Fragmentation)
}

func TestComputeCognitiveLoad_Fragmentation(t *testing.T) {
	events := []*domain.CanonicalEvent{
		testEvent("Sync", day(9, 0), day(9, 30)),
		testEvent("Sync", day(10, 0), day(10, 30)), // 30 min gap
		testEvent("Sync", day(11, 0), day(11, 30)), // 30 min gap
	}

	load := ComputeCognitiveLoad(events, DefaultWorkingHours(), day(0, 0), day(0, 0).Add(24*time.Hour))
	assert.Equal(t, 2, load.Fragmentation)
}

func TestComputeCognitiveLoad_TransparentAndCancelledExcluded(t *testing.T) {
	cancelled := testEvent("Sprint standup", day(9, 0), day(10, 0))
	cancelled.Status = domain.EventStatusCancelled
	transparent := testEvent("OOO placeholder", day(10, 0), day(11, 0))
	transparent.Transparency = domain.TransparencyTransparent

	load := ComputeCognitiveLoad(
		[]*domain.CanonicalEvent{cancelled, transparent},
		DefaultWorkingHours(), day(0, 0), day(0, 0).Add(24*time.Hour),
	)
	assert.Equal(t, 0, load.Score)
}

func TestDailyLoads_Length(t *testing.T) {
	loads := DailyLoads(nil, DefaultWorkingHours(), day(0, 0), 7)
	require.Len(t, loads, 7)
	for i, l := range loads {
		assert.Equal(t, 0, l.Score, fmt.Sprintf("day %d", i))
	}
}
