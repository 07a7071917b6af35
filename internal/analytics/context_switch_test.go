package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramxx/tminus/internal/store/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		title string
		want  Category
	}{
		{"Sprint standup", CategoryEngineering},
		{"Deploy window", CategoryEngineering},
		{"Client demo", CategorySales},
		{"Renewal call", CategorySales},
		{"Candidate interview", CategoryHiring},
		// "engineer" contains the engineering keyword "eng", which comes
		// first in the precedence order.
		{"Interview: staff engineer", CategoryEngineering},
		{"Focus block", CategoryDeepWork},
		{"1:1 with manager", CategoryAdmin},
		{"Lunch", CategoryOther},
		{"", CategoryOther},
	}
	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.title))
		})
	}
}

func TestClassify_PrecedenceFirstMatchWins(t *testing.T) {
	// Contains both an engineering and a sales keyword; engineering has
	// precedence.
	assert.Equal(t, CategoryEngineering, Classify("Client bug triage"))
}

func TestSwitchCost_Matrix(t *testing.T) {
	for _, from := range categoryOrder {
		for _, to := range categoryOrder {
			cost := SwitchCost(from, to)
			if from == to {
				assert.Equal(t, 0.1, cost)
				continue
			}
			assert.GreaterOrEqual(t, cost, 0.3)
			assert.LessOrEqual(t, cost, 0.9)
			// Costs are symmetric in this matrix.
			assert.Equal(t, cost, SwitchCost(to, from), "%s <-> %s", from, to)
		}
	}
}

func TestAnalyzeContextSwitches_TransitionsAndTotal(t *testing.T) {
	events := []*domain.CanonicalEvent{
		testEvent("Sprint standup", day(9, 0), day(10, 0)),
		testEvent("Client demo", day(10, 0), day(11, 0)),
		testEvent("Deploy review", day(11, 0), day(12, 0)),
	}
	result := AnalyzeContextSwitches(events, day(0, 0), day(0, 0).Add(24*time.Hour))

	require.Len(t, result.Transitions, 2)
	assert.Equal(t, CategoryEngineering, result.Transitions[0].FromCategory)
	assert.Equal(t, CategorySales, result.Transitions[0].ToCategory)
	assert.InDelta(t, 1.8, result.TotalCost, 0.001) // 0.9 + 0.9
}

func TestAnalyzeContextSwitches_ClusteringSuggestion(t *testing.T) {
	// Engineering and sales alternate five times in one day.
	var events []*domain.CanonicalEvent
	titles := []string{"Sprint planning", "Client call", "Bug triage", "Demo prep", "Deploy", "Pipeline review"}
	for i, title := range titles {
		events = append(events, testEvent(title, day(9+i, 0), day(10+i, 0)))
	}

	result := AnalyzeContextSwitches(events, day(0, 0), day(0, 0).Add(24*time.Hour))

	require.NotEmpty(t, result.Suggestions)
	suggestion := result.Suggestions[0]
	assert.GreaterOrEqual(t, suggestion.TransitionCount, 3)
	// Clustered cost is 0.1 per transition against 0.9 actual.
	assert.InDelta(t, float64(suggestion.TransitionCount)*0.8, suggestion.EstimatedSavings, 0.001)
}

func TestAnalyzeContextSwitches_NoSuggestionBelowThreshold(t *testing.T) {
	events := []*domain.CanonicalEvent{
		testEvent("Sprint standup", day(9, 0), day(10, 0)),
		testEvent("Client demo", day(10, 0), day(11, 0)),
	}
	result := AnalyzeContextSwitches(events, day(0, 0), day(0, 0).Add(24*time.Hour))
	assert.Empty(t, result.Suggestions)
}
