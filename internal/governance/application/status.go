// Package application implements the governance engine: commitment status
// over rolling windows, deterministic proof assembly, and content-addressed
// proof documents.
package application

import (
	"math"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
)

// ComplianceStatus is the commitment compliance verdict.
type ComplianceStatus string

const (
	StatusCompliant ComplianceStatus = "compliant"
	StatusUnder     ComplianceStatus = "under"
	StatusOver      ComplianceStatus = "over"
)

// CommitmentStatus is the computed state of one commitment window.
type CommitmentStatus struct {
	CommitmentID shared.ID        `json:"commitment_id"`
	ClientID     string           `json:"client_id"`
	WindowStart  time.Time        `json:"window_start"`
	WindowEnd    time.Time        `json:"window_end"`
	TargetHours  float64          `json:"target_hours"`
	ActualHours  float64          `json:"actual_hours"`
	Status       ComplianceStatus `json:"status"`
	EventCount   int              `json:"event_count"`
}

// ComputeStatus evaluates a commitment against its billable events at a
// point in time. Pure: the caller supplies the clock and the event set.
func ComputeStatus(commitment *domain.Commitment, billable []storeapp.AllocatedEvent, now time.Time) CommitmentStatus {
	window := commitment.Window(now)

	actual := 0.0
	count := 0
	for _, ae := range billable {
		if ae.Event == nil || !ae.Event.Overlaps(window.Start, window.End) {
			continue
		}
		actual += ae.Event.Duration().Hours()
		count++
	}
	actual = math.Round(actual*100) / 100

	return CommitmentStatus{
		CommitmentID: commitment.ID,
		ClientID:     commitment.ClientID,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		TargetHours:  commitment.TargetHours,
		ActualHours:  actual,
		Status:       classify(commitment.TargetHours, actual),
		EventCount:   count,
	}
}

// classify applies the 10% compliance band. Exactly 90% of target is
// under; exactly 110% is compliant. A zero target is compliant only at zero
// actual hours; anything billed against it is over.
func classify(target, actual float64) ComplianceStatus {
	if target == 0 {
		if actual > 0 {
			return StatusOver
		}
		return StatusCompliant
	}
	switch {
	case actual <= 0.9*target:
		return StatusUnder
	case actual > 1.1*target:
		return StatusOver
	default:
		return StatusCompliant
	}
}
