package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	storeapp "github.com/ramxx/tminus/internal/store/application"
	"github.com/ramxx/tminus/internal/store/domain"
)

// ProofEvent is one billable event inside a proof document.
type ProofEvent struct {
	CanonicalEventID string  `json:"canonical_event_id"`
	Title            string  `json:"title"`
	StartTS          string  `json:"start_ts"`
	EndTS            string  `json:"end_ts"`
	Hours            float64 `json:"hours"`
}

// ProofData is the canonical proof structure. Serializing it with
// CanonicalJSON always yields identical bytes for structurally identical
// inputs; the hash of those bytes is the proof hash.
type ProofData struct {
	CommitmentID       string           `json:"commitment_id"`
	ClientID           string           `json:"client_id"`
	ClientName         string           `json:"client_name"`
	WindowType         string           `json:"window_type"`
	RollingWindowWeeks int              `json:"rolling_window_weeks"`
	TargetHours        float64          `json:"target_hours"`
	WindowStart        string           `json:"window_start"`
	WindowEnd          string           `json:"window_end"`
	ActualHours        float64          `json:"actual_hours"`
	Status             ComplianceStatus `json:"status"`
	Events             []ProofEvent     `json:"events"`
}

// AssembleProof builds the canonical proof structure for a commitment
// window. Events are ordered by start timestamp, ties by ID, so the
// structure is a pure function of its inputs.
func AssembleProof(commitment *domain.Commitment, billable []storeapp.AllocatedEvent, now time.Time) ProofData {
	status := ComputeStatus(commitment, billable, now)

	var events []ProofEvent
	for _, ae := range billable {
		if ae.Event == nil || !ae.Event.Overlaps(status.WindowStart, status.WindowEnd) {
			continue
		}
		events = append(events, ProofEvent{
			CanonicalEventID: ae.Event.ID.String(),
			Title:            ae.Event.Title,
			StartTS:          ae.Event.Start.UTC().Format(time.RFC3339),
			EndTS:            ae.Event.End.UTC().Format(time.RFC3339),
			Hours:            roundHours(ae.Event.Duration().Hours()),
		})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartTS == events[j].StartTS {
			return events[i].CanonicalEventID < events[j].CanonicalEventID
		}
		return events[i].StartTS < events[j].StartTS
	})

	return ProofData{
		CommitmentID:       commitment.ID.String(),
		ClientID:           commitment.ClientID,
		ClientName:         commitment.ClientName,
		WindowType:         string(commitment.WindowType),
		RollingWindowWeeks: commitment.RollingWindowWeeks,
		TargetHours:        commitment.TargetHours,
		WindowStart:        status.WindowStart.Format(time.RFC3339),
		WindowEnd:          status.WindowEnd.Format(time.RFC3339),
		ActualHours:        status.ActualHours,
		Status:             status.Status,
		Events:             events,
	}
}

// CanonicalJSON serializes the proof with sorted keys, no HTML escaping,
// and no trailing newline. Two structurally identical proofs produce
// byte-identical output.
func CanonicalJSON(p ProofData) ([]byte, error) {
	// Round-trip through a map so keys serialize sorted regardless of
	// struct field order.
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to normalize proof: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to canonicalize proof: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ProofHash computes the SHA-256 of the canonical serialization.
func ProofHash(p ProofData) (string, error) {
	canonical, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func roundHours(h float64) float64 {
	return float64(int(h*100+0.5)) / 100
}
