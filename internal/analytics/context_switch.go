package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ramxx/tminus/internal/store/domain"
)

// Category is a meeting category resolved from the title.
type Category string

const (
	CategoryEngineering Category = "engineering"
	CategorySales       Category = "sales"
	CategoryHiring      Category = "hiring"
	CategoryDeepWork    Category = "deep_work"
	CategoryAdmin       Category = "admin"
	CategoryOther       Category = "other"
)

// categoryOrder fixes the match precedence; first match wins.
var categoryOrder = []Category{
	CategoryEngineering,
	CategorySales,
	CategoryHiring,
	CategoryDeepWork,
	CategoryAdmin,
	CategoryOther,
}

// categoryKeywords are disjoint by construction; a keyword appears under
// exactly one category.
var categoryKeywords = map[Category][]string{
	CategoryEngineering: {"eng", "code", "deploy", "bug", "sprint", "standup", "architecture", "technical", "api", "incident", "postmortem"},
	CategorySales:       {"sales", "client", "demo", "prospect", "pipeline", "deal", "renewal", "pitch"},
	CategoryHiring:      {"interview", "hiring", "candidate", "recruiter", "sourcing", "offer"},
	CategoryDeepWork:    {"focus", "deep work", "writing", "research", "heads down", "thinking"},
	CategoryAdmin:       {"1:1", "one-on-one", "admin", "expense", "planning", "budget", "all hands", "sync", "status"},
}

// switchCosts is the 6×6 transition cost matrix. Same-category transitions
// cost 0.1; the most distant context jumps cost 0.9.
var switchCosts = map[Category]map[Category]float64{
	CategoryEngineering: {CategoryEngineering: 0.1, CategorySales: 0.9, CategoryHiring: 0.7, CategoryDeepWork: 0.4, CategoryAdmin: 0.6, CategoryOther: 0.5},
	CategorySales:       {CategoryEngineering: 0.9, CategorySales: 0.1, CategoryHiring: 0.5, CategoryDeepWork: 0.8, CategoryAdmin: 0.4, CategoryOther: 0.5},
	CategoryHiring:      {CategoryEngineering: 0.7, CategorySales: 0.5, CategoryHiring: 0.1, CategoryDeepWork: 0.7, CategoryAdmin: 0.3, CategoryOther: 0.4},
	CategoryDeepWork:    {CategoryEngineering: 0.4, CategorySales: 0.8, CategoryHiring: 0.7, CategoryDeepWork: 0.1, CategoryAdmin: 0.6, CategoryOther: 0.5},
	CategoryAdmin:       {CategoryEngineering: 0.6, CategorySales: 0.4, CategoryHiring: 0.3, CategoryDeepWork: 0.6, CategoryAdmin: 0.1, CategoryOther: 0.3},
	CategoryOther:       {CategoryEngineering: 0.5, CategorySales: 0.5, CategoryHiring: 0.4, CategoryDeepWork: 0.5, CategoryAdmin: 0.3, CategoryOther: 0.1},
}

// Classify resolves a title to a category. Precedence is fixed; the first
// category whose keyword list matches wins.
func Classify(title string) Category {
	lower := strings.ToLower(title)
	for _, cat := range categoryOrder {
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				return cat
			}
		}
	}
	return CategoryOther
}

// SwitchCost returns the cost of transitioning between two categories.
func SwitchCost(from, to Category) float64 {
	if costs, ok := switchCosts[from]; ok {
		if c, ok := costs[to]; ok {
			return c
		}
	}
	return switchCosts[CategoryOther][CategoryOther]
}

// Transition is one adjacent-pair context switch.
type Transition struct {
	At           time.Time `json:"at"`
	FromTitle    string    `json:"from_title"`
	ToTitle      string    `json:"to_title"`
	FromCategory Category  `json:"from_category"`
	ToCategory   Category  `json:"to_category"`
	Cost         float64   `json:"cost"`
}

// ClusterSuggestion proposes batching two categories' meetings.
type ClusterSuggestion struct {
	Categories       [2]Category `json:"categories"`
	TransitionCount  int         `json:"transition_count"`
	EstimatedSavings float64     `json:"estimated_savings"`
}

// ContextSwitchResult is the full context-switch analysis.
type ContextSwitchResult struct {
	Transitions []Transition        `json:"transitions"`
	TotalCost   float64             `json:"total_cost"`
	Suggestions []ClusterSuggestion `json:"suggestions"`
}

// AnalyzeContextSwitches computes transitions over events in a window.
func AnalyzeContextSwitches(events []*domain.CanonicalEvent, start, end time.Time) ContextSwitchResult {
	active := activeEvents(events, start, end)

	result := ContextSwitchResult{}
	type pairKey struct{ a, b Category }
	pairCosts := make(map[pairKey]float64)
	pairCounts := make(map[pairKey]int)

	for i := 1; i < len(active); i++ {
		prev, curr := active[i-1], active[i]
		from, to := Classify(prev.Title), Classify(curr.Title)
		if from == to {
			continue
		}
		cost := SwitchCost(from, to)
		result.Transitions = append(result.Transitions, Transition{
			At:           curr.Start,
			FromTitle:    prev.Title,
			ToTitle:      curr.Title,
			FromCategory: from,
			ToCategory:   to,
			Cost:         cost,
		})
		result.TotalCost += cost

		key := pairKey{from, to}
		if strings.Compare(string(to), string(from)) < 0 {
			key = pairKey{to, from}
		}
		pairCosts[key] += cost
		pairCounts[key]++
	}
	result.TotalCost = math.Round(result.TotalCost*100) / 100

	// Two categories bouncing back and forth three or more times in the
	// window is a clustering opportunity: batched meetings would pay the
	// same-category cost instead.
	for key, count := range pairCounts {
		if count < 3 {
			continue
		}
		clustered := float64(count) * SwitchCost(key.a, key.a)
		savings := pairCosts[key] - clustered
		if savings <= 0 {
			continue
		}
		result.Suggestions = append(result.Suggestions, ClusterSuggestion{
			Categories:       [2]Category{key.a, key.b},
			TransitionCount:  count,
			EstimatedSavings: math.Round(savings*100) / 100,
		})
	}
	sort.Slice(result.Suggestions, func(i, j int) bool {
		return result.Suggestions[i].EstimatedSavings > result.Suggestions[j].EstimatedSavings
	})

	return result
}

// CountSwitches counts adjacent pairs resolving to different categories.
func CountSwitches(events []*domain.CanonicalEvent, start, end time.Time) int {
	active := activeEvents(events, start, end)
	switches := 0
	for i := 1; i < len(active); i++ {
		if Classify(active[i-1].Title) != Classify(active[i].Title) {
			switches++
		}
	}
	return switches
}
