package domain

import (
	"errors"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// Allocation validation errors.
var (
	ErrInvalidBillingCategory = errors.New("invalid billing category")
	ErrEmptyEventRef          = errors.New("allocation requires a canonical event")
	ErrAllocationLocked       = errors.New("allocation is locked")
)

// BillingCategory classifies where an event's time goes.
type BillingCategory string

const (
	BillingBillable  BillingCategory = "BILLABLE"
	BillingStrategic BillingCategory = "STRATEGIC"
	BillingInternal  BillingCategory = "INTERNAL"
	BillingPersonal  BillingCategory = "PERSONAL"
)

// IsValid reports whether the category is known.
func (c BillingCategory) IsValid() bool {
	switch c {
	case BillingBillable, BillingStrategic, BillingInternal, BillingPersonal:
		return true
	default:
		return false
	}
}

// TimeAllocation assigns an event's duration to a billing category and,
// optionally, a client. At most one allocation exists per event.
type TimeAllocation struct {
	ID               shared.ID       `json:"id"`
	UserID           shared.ID       `json:"user_id"`
	CanonicalEventID shared.ID       `json:"canonical_event_id"`
	BillingCategory  BillingCategory `json:"billing_category"`
	ClientID         string          `json:"client_id"`
	Rate             float64         `json:"rate"`
	Confidence       float64         `json:"confidence"`
	Locked           bool            `json:"locked"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTimeAllocation creates an allocation.
func NewTimeAllocation(userID, eventID shared.ID, category BillingCategory, clientID string, rate, confidence float64) (*TimeAllocation, error) {
	if userID.IsZero() {
		return nil, ErrEmptyUserID
	}
	if eventID.IsZero() {
		return nil, ErrEmptyEventRef
	}
	if !category.IsValid() {
		return nil, ErrInvalidBillingCategory
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	now := time.Now().UTC()
	return &TimeAllocation{
		ID:               shared.NewID(shared.PrefixAllocation),
		UserID:           userID,
		CanonicalEventID: eventID,
		BillingCategory:  category,
		ClientID:         clientID,
		Rate:             rate,
		Confidence:       confidence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Reassign updates the category and client of an unlocked allocation.
func (a *TimeAllocation) Reassign(category BillingCategory, clientID string) error {
	if a.Locked {
		return ErrAllocationLocked
	}
	if !category.IsValid() {
		return ErrInvalidBillingCategory
	}
	a.BillingCategory = category
	a.ClientID = clientID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Lock freezes the allocation against further reassignment.
func (a *TimeAllocation) Lock() {
	if !a.Locked {
		a.Locked = true
		a.UpdatedAt = time.Now().UTC()
	}
}
