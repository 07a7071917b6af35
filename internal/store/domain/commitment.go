package domain

import (
	"errors"
	"strings"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// Commitment validation errors.
var (
	ErrEmptyClient       = errors.New("client ID cannot be empty")
	ErrInvalidWindowType = errors.New("invalid window type")
	ErrNegativeTarget    = errors.New("target hours cannot be negative")
)

// WindowType selects the rolling window shape for a commitment.
type WindowType string

const (
	WindowWeekly  WindowType = "WEEKLY"
	WindowMonthly WindowType = "MONTHLY"
)

// IsValid reports whether the window type is known.
func (w WindowType) IsValid() bool {
	return w == WindowWeekly || w == WindowMonthly
}

// Commitment is a client-hour obligation tracked over a rolling window.
type Commitment struct {
	ID                 shared.ID  `json:"id"`
	UserID             shared.ID  `json:"user_id"`
	ClientID           string     `json:"client_id"`
	ClientName         string     `json:"client_name"`
	TargetHours        float64    `json:"target_hours"`
	WindowType         WindowType `json:"window_type"`
	RollingWindowWeeks int        `json:"rolling_window_weeks"`
	HardMinimum        bool       `json:"hard_minimum"`
	ProofRequired      bool       `json:"proof_required"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewCommitment creates a commitment. A zero rolling window defaults to
// 1 week (WEEKLY) or 4 weeks (MONTHLY).
func NewCommitment(userID shared.ID, clientID, clientName string, targetHours float64, windowType WindowType, rollingWeeks int, hardMinimum, proofRequired bool) (*Commitment, error) {
	if userID.IsZero() {
		return nil, ErrEmptyUserID
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, ErrEmptyClient
	}
	if !windowType.IsValid() {
		return nil, ErrInvalidWindowType
	}
	if targetHours < 0 {
		return nil, ErrNegativeTarget
	}
	if rollingWeeks <= 0 {
		if windowType == WindowMonthly {
			rollingWeeks = 4
		} else {
			rollingWeeks = 1
		}
	}

	now := time.Now().UTC()
	return &Commitment{
		ID:                 shared.NewID(shared.PrefixCommitment),
		UserID:             userID,
		ClientID:           clientID,
		ClientName:         clientName,
		TargetHours:        targetHours,
		WindowType:         windowType,
		RollingWindowWeeks: rollingWeeks,
		HardMinimum:        hardMinimum,
		ProofRequired:      proofRequired,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Window returns the rolling window [start, end) ending at now. MONTHLY
// windows roll by 7-day units like WEEKLY ones; no calendar-month
// arithmetic is attempted.
func (c *Commitment) Window(now time.Time) shared.TimeRange {
	end := now.UTC()
	start := end.Add(-time.Duration(c.RollingWindowWeeks) * 7 * 24 * time.Hour)
	return shared.NewTimeRange(start, end)
}
