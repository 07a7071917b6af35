package domain

import (
	"encoding/json"
	"errors"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// Constraint validation errors.
var (
	ErrInvalidConstraintKind = errors.New("invalid constraint kind")
	ErrInvalidWindow         = errors.New("active_to must be after active_from")
)

// ConstraintKind classifies a scheduling constraint.
type ConstraintKind string

const (
	ConstraintWorkingHours ConstraintKind = "working_hours"
	ConstraintTrip         ConstraintKind = "trip"
	ConstraintOverride     ConstraintKind = "override"
	ConstraintBlock        ConstraintKind = "block"
)

// IsValid reports whether the kind is known.
func (k ConstraintKind) IsValid() bool {
	switch k {
	case ConstraintWorkingHours, ConstraintTrip, ConstraintOverride, ConstraintBlock:
		return true
	default:
		return false
	}
}

// WorkingHoursConfig is the config payload for working_hours constraints.
type WorkingHoursConfig struct {
	// Days are ISO weekdays, 1 = Monday … 7 = Sunday.
	Days []int `json:"days"`
	// Start and End are "HH:MM" local times.
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Constraint restricts or annotates a span of the user's calendar.
// ActiveFrom/ActiveTo bound a half-open validity window; nil means unbounded.
type Constraint struct {
	ID         shared.ID       `json:"id"`
	UserID     shared.ID       `json:"user_id"`
	Kind       ConstraintKind  `json:"kind"`
	Config     json.RawMessage `json:"config"`
	ActiveFrom *time.Time      `json:"active_from"`
	ActiveTo   *time.Time      `json:"active_to"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewConstraint creates a constraint.
func NewConstraint(userID shared.ID, kind ConstraintKind, config json.RawMessage, from, to *time.Time) (*Constraint, error) {
	if userID.IsZero() {
		return nil, ErrEmptyUserID
	}
	if !kind.IsValid() {
		return nil, ErrInvalidConstraintKind
	}
	if from != nil && to != nil && !to.After(*from) {
		return nil, ErrInvalidWindow
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	return &Constraint{
		ID:         shared.NewID(shared.PrefixConstraint),
		UserID:     userID,
		Kind:       kind,
		Config:     config,
		ActiveFrom: from,
		ActiveTo:   to,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ActiveAt reports whether the constraint applies at t.
func (c *Constraint) ActiveAt(t time.Time) bool {
	if c.ActiveFrom != nil && t.Before(*c.ActiveFrom) {
		return false
	}
	if c.ActiveTo != nil && !t.Before(*c.ActiveTo) {
		return false
	}
	return true
}

// WorkingHours decodes the config for working_hours constraints.
func (c *Constraint) WorkingHours() (WorkingHoursConfig, error) {
	var cfg WorkingHoursConfig
	if c.Kind != ConstraintWorkingHours {
		return cfg, ErrInvalidConstraintKind
	}
	err := json.Unmarshal(c.Config, &cfg)
	return cfg, err
}
