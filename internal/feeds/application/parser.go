// Package application implements the ICS feed subsystem: fetch, parse,
// refresh classification, staleness, and the upgrade/downgrade planners.
package application

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/ramxx/tminus/internal/store/domain"
)

// ParsedEvent is one VEVENT from a feed, keyed by UID.
type ParsedEvent struct {
	UID          string
	Sequence     int
	Summary      string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	AllDay       bool
	Status       domain.EventStatus
	Transparency domain.Transparency
	RRule        string
}

// ParseCalendar decodes an RFC 5545 calendar body into events. Events
// without a UID or DTSTART are skipped.
//
// Floating times (no Z suffix, no TZID) are interpreted in the calendar's
// X-WR-TIMEZONE when present, otherwise UTC.
func ParseCalendar(r io.Reader) ([]ParsedEvent, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}

	loc := time.UTC
	if props := cal.Props["X-WR-TIMEZONE"]; len(props) > 0 {
		if parsed, err := time.LoadLocation(props[0].Value); err == nil {
			loc = parsed
		}
	}

	var out []ParsedEvent
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}

		event := ParsedEvent{
			Status:       domain.EventStatusConfirmed,
			Transparency: domain.TransparencyOpaque,
		}

		if props := child.Props[ical.PropUID]; len(props) > 0 {
			event.UID = props[0].Value
		}
		if event.UID == "" {
			continue
		}
		if props := child.Props[ical.PropSummary]; len(props) > 0 {
			event.Summary = props[0].Value
		}
		if props := child.Props[ical.PropDescription]; len(props) > 0 {
			event.Description = props[0].Value
		}
		if props := child.Props[ical.PropLocation]; len(props) > 0 {
			event.Location = props[0].Value
		}
		if props := child.Props[ical.PropSequence]; len(props) > 0 {
			if seq, err := strconv.Atoi(props[0].Value); err == nil {
				event.Sequence = seq
			}
		}
		if props := child.Props[ical.PropStatus]; len(props) > 0 {
			event.Status = mapStatus(props[0].Value)
		}
		if props := child.Props[ical.PropTransparency]; len(props) > 0 {
			if strings.EqualFold(props[0].Value, "TRANSPARENT") {
				event.Transparency = domain.TransparencyTransparent
			}
		}
		if props := child.Props[ical.PropRecurrenceRule]; len(props) > 0 {
			event.RRule = props[0].Value
		}

		icalEvent := &ical.Event{Component: child}
		start, err := icalEvent.DateTimeStart(loc)
		if err != nil {
			continue
		}
		event.Start = start.UTC()

		if props := child.Props[ical.PropDateTimeStart]; len(props) > 0 {
			if strings.EqualFold(props[0].Params.Get(ical.ParamValue), "DATE") {
				event.AllDay = true
			}
		}

		if end, err := icalEvent.DateTimeEnd(loc); err == nil && !end.IsZero() {
			event.End = end.UTC()
		} else if event.AllDay {
			event.End = event.Start.Add(24 * time.Hour)
		} else {
			event.End = event.Start.Add(time.Hour)
		}

		out = append(out, event)
	}
	return out, nil
}

func mapStatus(v string) domain.EventStatus {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "TENTATIVE":
		return domain.EventStatusTentative
	case "CANCELLED":
		return domain.EventStatusCancelled
	default:
		return domain.EventStatusConfirmed
	}
}

// Payload converts a parsed event into a store upsert payload.
func (e ParsedEvent) Payload() domain.EventPayload {
	return domain.EventPayload{
		ICalUID:        e.UID,
		Title:          e.Summary,
		Description:    e.Description,
		Location:       e.Location,
		Start:          e.Start,
		End:            e.End,
		AllDay:         e.AllDay,
		Timezone:       "UTC",
		Status:         e.Status,
		Transparency:   e.Transparency,
		RecurrenceRule: e.RRule,
		Source:         domain.SourceICSFeed,
	}
}

// Version derives the upsert version from the SEQUENCE. SEQUENCE starts at
// 0; store versions start at 1.
func (e ParsedEvent) Version() int64 {
	return int64(e.Sequence) + 1
}
