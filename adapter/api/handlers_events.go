package api

import (
	"encoding/json"
	"net/http"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"
)

// eventDTO is the wire form of a canonical event. All-day events carry
// date and omit dateTime, per the wire contract.
type eventDTO struct {
	ID             string                `json:"id"`
	AccountID      string                `json:"account_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description,omitempty"`
	Location       string                `json:"location,omitempty"`
	Start          eventTimeDTO          `json:"start"`
	End            eventTimeDTO          `json:"end"`
	Status         string                `json:"status"`
	Visibility     string                `json:"visibility"`
	Transparency   string                `json:"transparency"`
	RecurrenceRule string                `json:"recurrence_rule,omitempty"`
	Source         string                `json:"source"`
	Version        int64                 `json:"version"`
	ICalUID        string                `json:"ical_uid,omitempty"`
	Attendees      []store.Attendee      `json:"attendees,omitempty"`
	Organizer      *store.Organizer      `json:"organizer,omitempty"`
	Conference     *store.ConferenceData `json:"conference_data,omitempty"`
}

// eventTimeDTO carries either a dateTime or an all-day date.
type eventTimeDTO struct {
	DateTime *string `json:"dateTime,omitempty"`
	Date     *string `json:"date,omitempty"`
	Timezone string  `json:"timeZone,omitempty"`
}

func toEventTime(t time.Time, allDay bool, tz string) eventTimeDTO {
	if allDay {
		d := t.UTC().Format("2006-01-02")
		return eventTimeDTO{Date: &d, Timezone: tz}
	}
	dt := t.UTC().Format(time.RFC3339)
	return eventTimeDTO{DateTime: &dt, Timezone: tz}
}

func toEventDTO(e *store.CanonicalEvent) eventDTO {
	return eventDTO{
		ID:             e.ID.String(),
		AccountID:      e.AccountID.String(),
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		Start:          toEventTime(e.Start, e.AllDay, e.Timezone),
		End:            toEventTime(e.End, e.AllDay, e.Timezone),
		Status:         string(e.Status),
		Visibility:     e.Visibility,
		Transparency:   string(e.Transparency),
		RecurrenceRule: e.RecurrenceRule,
		Source:         string(e.Source),
		Version:        e.Version,
		ICalUID:        e.ICalUID,
		Attendees:      e.Attendees,
		Organizer:      e.Organizer,
		Conference:     e.Conference,
	}
}

// parseTimeParam parses an ISO-8601 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, shared.Ef(shared.KindInvalidArgument, "missing_"+name, "%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Bare dates are accepted too.
		if d, derr := time.Parse("2006-01-02", raw); derr == nil {
			return d.UTC(), nil
		}
		return time.Time{}, shared.Wrap(shared.KindInvalidArgument, "malformed_"+name, err)
	}
	return t.UTC(), nil
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	cursor := shared.ID(r.URL.Query().Get("cursor"))
	page, err := s.store.ListCanonicalEvents(r.Context(), principal.UserID, start, end, cursor, 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	items := make([]eventDTO, 0, len(page.Items))
	for _, e := range page.Items {
		items = append(items, toEventDTO(e))
	}
	writeDataMeta(w, http.StatusOK, items, map[string]any{
		"next_cursor": page.NextCursor.String(),
		"has_more":    page.HasMore,
	})
}

func (s *Server) handleCreateAllocation(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	eventID := shared.ID(r.PathValue("id"))

	var body struct {
		BillingCategory string  `json:"billing_category"`
		ClientID        string  `json:"client_id"`
		Rate            float64 `json:"rate"`
		Confidence      float64 `json:"confidence"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	allocation, err := store.NewTimeAllocation(principal.UserID, eventID, store.BillingCategory(body.BillingCategory), body.ClientID, body.Rate, body.Confidence)
	if err != nil {
		writeError(w, s.logger, shared.Wrap(shared.KindInvalidArgument, "invalid_allocation", err))
		return
	}

	if err := s.store.CreateAllocation(r.Context(), allocation); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, allocation)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	eventID := shared.ID(r.PathValue("id"))

	allocation, err := s.store.GetAllocation(r.Context(), principal.UserID, eventID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, allocation)
}

func (s *Server) handleAddConstraint(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var body struct {
		Kind       string          `json:"kind"`
		Config     json.RawMessage `json:"config"`
		ActiveFrom *time.Time      `json:"active_from"`
		ActiveTo   *time.Time      `json:"active_to"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}

	constraint, err := store.NewConstraint(principal.UserID, store.ConstraintKind(body.Kind), body.Config, body.ActiveFrom, body.ActiveTo)
	if err != nil {
		writeError(w, s.logger, shared.Wrap(shared.KindInvalidArgument, "invalid_constraint", err))
		return
	}

	if err := s.store.AddConstraint(r.Context(), constraint); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, constraint)
}

func (s *Server) handleListConstraints(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	constraints, err := s.store.ListConstraints(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, constraints)
}

func (s *Server) handleDeleteConstraint(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := shared.ID(r.PathValue("id"))

	if err := s.store.DeleteConstraint(r.Context(), principal.UserID, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}
