package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
)

var testNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func testCommitment(t *testing.T, targetHours float64, weeks int) *domain.Commitment {
	t.Helper()
	c, err := domain.NewCommitment(shared.NewID(shared.PrefixUser), "acme", "Acme Corp", targetHours, domain.WindowWeekly, weeks, false, true)
	require.NoError(t, err)
	return c
}

func billableEvent(start time.Time, hours float64) storeapp.AllocatedEvent {
	event := &domain.CanonicalEvent{
		ID:     shared.NewID(shared.PrefixEvent),
		Title:  "Acme working session",
		Start:  start,
		End:    start.Add(time.Duration(hours * float64(time.Hour))),
		Status: domain.EventStatusConfirmed,
	}
	return storeapp.AllocatedEvent{Event: event}
}

func TestComputeStatus_Under(t *testing.T) {
	commitment := testCommitment(t, 20, 1)

	// Four billable sessions, 18 hours total, inside the window.
	var billable []storeapp.AllocatedEvent
	for i := 0; i < 4; i++ {
		billable = append(billable, billableEvent(testNow.Add(-time.Duration(i+1)*24*time.Hour), 4.5))
	}

	status := ComputeStatus(commitment, billable, testNow)
	assert.Equal(t, StatusUnder, status.Status)
	assert.InDelta(t, 18.0, status.ActualHours, 0.001)
	assert.Equal(t, 4, status.EventCount)
}

func TestComputeStatus_ComplianceBand(t *testing.T) {
	tests := []struct {
		name   string
		actual float64
		want   ComplianceStatus
	}{
		// The lower bound is exclusive, so exactly 18 hours reads as
		// under; the export scenario depends on this.
		{"exactly 90 percent", 18.0, StatusUnder},
		{"just above 90 percent", 18.1, StatusCompliant},
		{"on target", 20.0, StatusCompliant},
		{"exactly 110 percent", 22.0, StatusCompliant},
		{"just over 110 percent", 22.2, StatusOver},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			commitment := testCommitment(t, 20, 1)
			billable := []storeapp.AllocatedEvent{billableEvent(testNow.Add(-24*time.Hour), tc.actual)}
			status := ComputeStatus(commitment, billable, testNow)
			assert.Equal(t, tc.want, status.Status)
		})
	}
}

func TestComputeStatus_ZeroTarget(t *testing.T) {
	commitment := testCommitment(t, 0, 1)

	status := ComputeStatus(commitment, nil, testNow)
	assert.Equal(t, StatusCompliant, status.Status)

	status = ComputeStatus(commitment, []storeapp.AllocatedEvent{billableEvent(testNow.Add(-24*time.Hour), 1)}, testNow)
	assert.Equal(t, StatusOver, status.Status)
}

func TestComputeStatus_EventsOutsideWindowIgnored(t *testing.T) {
	commitment := testCommitment(t, 10, 1)

	billable := []storeapp.AllocatedEvent{
		billableEvent(testNow.Add(-24*time.Hour), 10),  // in window
		billableEvent(testNow.Add(-10*24*time.Hour), 8), // before the 1-week window
	}

	status := ComputeStatus(commitment, billable, testNow)
	assert.InDelta(t, 10.0, status.ActualHours, 0.001)
	assert.Equal(t, 1, status.EventCount)
	assert.Equal(t, StatusCompliant, status.Status)
}

func TestCommitmentWindow_RollingWeeks(t *testing.T) {
	commitment := testCommitment(t, 10, 3)
	window := commitment.Window(testNow)
	assert.Equal(t, testNow.Add(-3*7*24*time.Hour), window.Start)
	assert.Equal(t, testNow, window.End)
}
