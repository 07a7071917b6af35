package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/outbox"
	storeapp "github.com/ramxx/tminus/internal/store/application"
)

// CalDAVCredentials resolves connection details for one caldav-capable
// account. The OAuth/token layer lives outside this package.
type CalDAVCredentials interface {
	Resolve(ctx context.Context, userID, accountID shared.ID) (baseURL, username, password, calendarPath string, err error)
}

// CalDAVWriter mirrors intents into a CalDAV calendar (Apple Calendar,
// Fastmail, Nextcloud).
type CalDAVWriter struct {
	credentials CalDAVCredentials
	logger      *slog.Logger
}

// NewCalDAVWriter creates a CalDAV provider writer.
func NewCalDAVWriter(credentials CalDAVCredentials, logger *slog.Logger) *CalDAVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalDAVWriter{credentials: credentials, logger: logger}
}

// Write applies one intent to the target calendar. Upserts PUT the event
// by its canonical ID path; deletes remove that path.
func (w *CalDAVWriter) Write(ctx context.Context, userID, targetAccountID shared.ID, operation outbox.Operation, event storeapp.MirrorEvent) error {
	baseURL, username, password, calendarPath, err := w.credentials.Resolve(ctx, userID, targetAccountID)
	if err != nil {
		return fmt.Errorf("failed to resolve caldav credentials: %w", err)
	}

	httpClient := webdav.HTTPClientWithBasicAuth(http.DefaultClient, username, password)
	client, err := caldav.NewClient(httpClient, baseURL)
	if err != nil {
		return fmt.Errorf("failed to create caldav client: %w", err)
	}

	eventPath := fmt.Sprintf("%s%s.ics", calendarPath, event.CanonicalEventID)

	if operation == outbox.OperationDelete {
		if err := client.RemoveAll(ctx, eventPath); err != nil {
			return fmt.Errorf("failed to remove caldav event: %w", err)
		}
		return nil
	}

	cal := toICalendar(event)
	if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return fmt.Errorf("failed to put caldav event: %w", err)
	}
	return nil
}

// toICalendar converts a mirror event to an ical.Calendar.
func toICalendar(event storeapp.MirrorEvent) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//T-Minus//Mirror Writer//EN")

	ev := ical.NewEvent()
	uid := event.ICalUID
	if uid == "" {
		uid = event.CanonicalEventID
	}
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	ev.Props.SetText(ical.PropSummary, event.Title)
	if event.Description != "" {
		ev.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ev.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Transparency == "transparent" {
		ev.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	}

	cal.Children = append(cal.Children, ev.Component)
	return cal
}
