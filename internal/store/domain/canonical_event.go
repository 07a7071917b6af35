// Package domain contains the domain model for the canonical event store:
// events, accounts, constraints, VIP policies, allocations, and commitments,
// all scoped to one owning user.
package domain

import (
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// EventStatus is the lifecycle status of a canonical event.
type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusTentative EventStatus = "tentative"
	EventStatusCancelled EventStatus = "cancelled"
)

// IsValid reports whether the status is a known value.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusConfirmed, EventStatusTentative, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// Transparency mirrors the iCalendar TRANSP property.
type Transparency string

const (
	TransparencyOpaque      Transparency = "opaque"
	TransparencyTransparent Transparency = "transparent"
)

// EventSource identifies where an event was ingested from.
type EventSource string

const (
	SourceProvider EventSource = "provider"
	SourceICSFeed  EventSource = "ics_feed"
)

// Attendee is one event participant.
type Attendee struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Response string `json:"response,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Organizer is the event organizer.
type Organizer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// ConferenceData carries joining information for a call.
type ConferenceData struct {
	URL      string `json:"url"`
	Provider string `json:"provider,omitempty"`
	PIN      string `json:"pin,omitempty"`
}

// CanonicalEvent is the store's authoritative representation of a calendar
// item. It is externally identified by (AccountID, OriginEventID); ID is the
// stable identifier that survives account upgrades.
type CanonicalEvent struct {
	ID            shared.ID
	UserID        shared.ID
	AccountID     shared.ID
	OriginEventID string
	ICalUID       string

	Title       string
	Description string
	Location    string

	Start    time.Time
	End      time.Time
	AllDay   bool
	Timezone string

	Status         EventStatus
	Visibility     string
	Transparency   Transparency
	RecurrenceRule string
	Source         EventSource

	// Version is the provider's change counter; never decreases except
	// through account removal.
	Version int64

	Attendees  []Attendee
	Organizer  *Organizer
	Conference *ConferenceData

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCanonicalEvent creates an event from an ingested payload.
func NewCanonicalEvent(userID, accountID shared.ID, originEventID string, payload EventPayload, version int64, now time.Time) *CanonicalEvent {
	if version < 1 {
		version = 1
	}
	e := &CanonicalEvent{
		ID:            shared.NewID(shared.PrefixEvent),
		UserID:        userID,
		AccountID:     accountID,
		OriginEventID: originEventID,
		Version:       version,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
	e.ApplyPayload(payload)
	return e
}

// EventPayload is the body of an upsert: everything except identity and
// version bookkeeping.
type EventPayload struct {
	ICalUID        string
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	AllDay         bool
	Timezone       string
	Status         EventStatus
	Visibility     string
	Transparency   Transparency
	RecurrenceRule string
	Source         EventSource
	Attendees      []Attendee
	Organizer      *Organizer
	Conference     *ConferenceData
}

// ApplyPayload overwrites the event body with the payload.
func (e *CanonicalEvent) ApplyPayload(p EventPayload) {
	e.ICalUID = p.ICalUID
	e.Title = p.Title
	e.Description = p.Description
	e.Location = p.Location
	e.Start = p.Start.UTC()
	e.End = p.End.UTC()
	e.AllDay = p.AllDay
	e.Timezone = p.Timezone
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	e.Status = p.Status
	if !e.Status.IsValid() {
		e.Status = EventStatusConfirmed
	}
	e.Visibility = p.Visibility
	if e.Visibility == "" {
		e.Visibility = "default"
	}
	e.Transparency = p.Transparency
	if e.Transparency == "" {
		e.Transparency = TransparencyOpaque
	}
	e.RecurrenceRule = p.RecurrenceRule
	e.Source = p.Source
	e.Attendees = p.Attendees
	e.Organizer = p.Organizer
	e.Conference = p.Conference
}

// MergeEnrichment copies enrichment fields (attendees, organizer,
// conference) from the payload where the stored event lacks them. Returns
// true if anything changed. Version is intentionally untouched.
func (e *CanonicalEvent) MergeEnrichment(p EventPayload) bool {
	changed := false
	if len(e.Attendees) == 0 && len(p.Attendees) > 0 {
		e.Attendees = p.Attendees
		changed = true
	}
	if e.Organizer == nil && p.Organizer != nil {
		e.Organizer = p.Organizer
		changed = true
	}
	if e.Conference == nil && p.Conference != nil {
		e.Conference = p.Conference
		changed = true
	}
	return changed
}

// HasEnrichmentBeyond reports whether the payload strictly extends the
// stored event's enrichment set.
func (e *CanonicalEvent) HasEnrichmentBeyond(p EventPayload) bool {
	if len(e.Attendees) == 0 && len(p.Attendees) > 0 {
		return true
	}
	if e.Organizer == nil && p.Organizer != nil {
		return true
	}
	if e.Conference == nil && p.Conference != nil {
		return true
	}
	return false
}

// Cancel marks the event cancelled and blanks the body, keeping identity
// and timing for audit.
func (e *CanonicalEvent) Cancel(now time.Time) {
	e.Status = EventStatusCancelled
	e.Title = ""
	e.Description = ""
	e.Location = ""
	e.Attendees = nil
	e.Organizer = nil
	e.Conference = nil
	e.UpdatedAt = now.UTC()
}

// IsCancelled reports whether the event is cancelled.
func (e *CanonicalEvent) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

// IsOpaque reports whether the event blocks time.
func (e *CanonicalEvent) IsOpaque() bool {
	return e.Transparency != TransparencyTransparent
}

// Duration returns the event length.
func (e *CanonicalEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event intersects [start, end).
func (e *CanonicalEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}
