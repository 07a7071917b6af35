// Package persistence implements the store repositories with hand-written
// SQL that runs unchanged on SQLite and PostgreSQL; placeholders are
// rebound per driver.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
	"github.com/ramxx/tminus/internal/store/domain"
)

// SQLEventRepository implements domain.EventRepository.
type SQLEventRepository struct {
	driver database.Driver
}

// NewSQLEventRepository creates an event repository for the given driver.
func NewSQLEventRepository(driver database.Driver) *SQLEventRepository {
	return &SQLEventRepository{driver: driver}
}

func (r *SQLEventRepository) rebind(q string) string {
	return database.Rebind(r.driver, q)
}

const eventColumns = `
	id, user_id, account_id, origin_event_id, ical_uid,
	title, description, location, start_at, end_at, all_day, timezone,
	status, visibility, transparency, recurrence_rule, source, version,
	attendees, organizer, conference, created_at, updated_at`

// Save inserts or replaces a canonical event.
func (r *SQLEventRepository) Save(ctx context.Context, exec database.Executor, e *domain.CanonicalEvent) error {
	attendees, err := json.Marshal(e.Attendees)
	if err != nil {
		return fmt.Errorf("failed to encode attendees: %w", err)
	}
	organizer := ""
	if e.Organizer != nil {
		b, err := json.Marshal(e.Organizer)
		if err != nil {
			return fmt.Errorf("failed to encode organizer: %w", err)
		}
		organizer = string(b)
	}
	conference := ""
	if e.Conference != nil {
		b, err := json.Marshal(e.Conference)
		if err != nil {
			return fmt.Errorf("failed to encode conference: %w", err)
		}
		conference = string(b)
	}

	// The conflict target is the primary key: the applicator always reads
	// before writing inside the partition, and account upgrades re-point
	// (account_id, origin_event_id) while keeping the canonical ID.
	query := r.rebind(`
		INSERT INTO canonical_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account_id = excluded.account_id,
			origin_event_id = excluded.origin_event_id,
			ical_uid = excluded.ical_uid,
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			timezone = excluded.timezone,
			status = excluded.status,
			visibility = excluded.visibility,
			transparency = excluded.transparency,
			recurrence_rule = excluded.recurrence_rule,
			source = excluded.source,
			version = excluded.version,
			attendees = excluded.attendees,
			organizer = excluded.organizer,
			conference = excluded.conference,
			updated_at = excluded.updated_at
	`)

	_, err = exec.Exec(ctx, query,
		e.ID.String(),
		e.UserID.String(),
		e.AccountID.String(),
		e.OriginEventID,
		e.ICalUID,
		e.Title,
		e.Description,
		e.Location,
		e.Start.UTC().Format(time.RFC3339),
		e.End.UTC().Format(time.RFC3339),
		boolToInt(e.AllDay),
		e.Timezone,
		string(e.Status),
		e.Visibility,
		string(e.Transparency),
		e.RecurrenceRule,
		string(e.Source),
		e.Version,
		string(attendees),
		organizer,
		conference,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// FindByID finds an event by its canonical ID.
func (r *SQLEventRepository) FindByID(ctx context.Context, exec database.Executor, userID, id shared.ID) (*domain.CanonicalEvent, error) {
	query := r.rebind(`SELECT` + eventColumns + `FROM canonical_events WHERE user_id = ? AND id = ?`)
	row := exec.QueryRow(ctx, query, userID.String(), id.String())
	return r.scanEvent(row)
}

// FindByOrigin finds an event by its external identity.
func (r *SQLEventRepository) FindByOrigin(ctx context.Context, exec database.Executor, userID, accountID shared.ID, originEventID string) (*domain.CanonicalEvent, error) {
	query := r.rebind(`SELECT` + eventColumns + `FROM canonical_events WHERE user_id = ? AND account_id = ? AND origin_event_id = ?`)
	row := exec.QueryRow(ctx, query, userID.String(), accountID.String(), originEventID)
	return r.scanEvent(row)
}

// FindByICalUID finds events sharing a cross-account iCalendar UID.
func (r *SQLEventRepository) FindByICalUID(ctx context.Context, exec database.Executor, userID shared.ID, icalUID string) ([]*domain.CanonicalEvent, error) {
	if icalUID == "" {
		return nil, nil
	}
	query := r.rebind(`SELECT` + eventColumns + `FROM canonical_events WHERE user_id = ? AND ical_uid = ? ORDER BY id`)
	rows, err := exec.Query(ctx, query, userID.String(), icalUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanEvents(rows)
}

// ListRange returns events overlapping [start, end] ordered by start
// ascending, then id, excluding cancelled events with no body. afterID
// implements keyset pagination.
func (r *SQLEventRepository) ListRange(ctx context.Context, exec database.Executor, userID shared.ID, start, end time.Time, afterID shared.ID, limit int) ([]*domain.CanonicalEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM canonical_events
		WHERE user_id = ?
		  AND start_at <= ?
		  AND end_at >= ?
		  AND NOT (status = 'cancelled' AND title = '')`
	args := []any{userID.String(), end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339)}

	if !afterID.IsZero() {
		query += `
		  AND (start_at, id) > (SELECT start_at, id FROM canonical_events WHERE id = ?)`
		args = append(args, afterID.String())
	}
	query += `
		ORDER BY start_at, id
		LIMIT ?`
	args = append(args, limit)

	rows, err := exec.Query(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanEvents(rows)
}

// ListByAccount returns all events of one account.
func (r *SQLEventRepository) ListByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) ([]*domain.CanonicalEvent, error) {
	query := r.rebind(`SELECT` + eventColumns + `FROM canonical_events WHERE user_id = ? AND account_id = ? ORDER BY start_at, id`)
	rows, err := exec.Query(ctx, query, userID.String(), accountID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanEvents(rows)
}

// DeleteByID hard-deletes a single event row. Only the account merge path
// uses this; normal deletes cancel in place.
func (r *SQLEventRepository) DeleteByID(ctx context.Context, exec database.Executor, userID, id shared.ID) error {
	query := r.rebind(`DELETE FROM canonical_events WHERE user_id = ? AND id = ?`)
	_, err := exec.Exec(ctx, query, userID.String(), id.String())
	return err
}

// DeleteByAccount hard-deletes all events of one account.
func (r *SQLEventRepository) DeleteByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) (int64, error) {
	query := r.rebind(`DELETE FROM canonical_events WHERE user_id = ? AND account_id = ?`)
	res, err := exec.Exec(ctx, query, userID.String(), accountID.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByAccount counts events of one account.
func (r *SQLEventRepository) CountByAccount(ctx context.Context, exec database.Executor, userID, accountID shared.ID) (int64, error) {
	query := r.rebind(`SELECT COUNT(*) FROM canonical_events WHERE user_id = ? AND account_id = ?`)
	var n int64
	if err := exec.QueryRow(ctx, query, userID.String(), accountID.String()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLEventRepository) scanEvent(row database.Row) (*domain.CanonicalEvent, error) {
	e, err := scanEventRow(row.Scan)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *SQLEventRepository) scanEvents(rows database.Rows) ([]*domain.CanonicalEvent, error) {
	var out []*domain.CanonicalEvent
	for rows.Next() {
		e, err := scanEventRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEventRow(scan func(dest ...any) error) (*domain.CanonicalEvent, error) {
	var (
		e          domain.CanonicalEvent
		id         string
		userID     string
		accountID  string
		startAt    string
		endAt      string
		allDay     int
		status     string
		transp     string
		source     string
		attendees  string
		organizer  string
		conference string
		createdAt  string
		updatedAt  string
	)

	err := scan(
		&id, &userID, &accountID, &e.OriginEventID, &e.ICalUID,
		&e.Title, &e.Description, &e.Location, &startAt, &endAt, &allDay, &e.Timezone,
		&status, &e.Visibility, &transp, &e.RecurrenceRule, &source, &e.Version,
		&attendees, &organizer, &conference, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ID = shared.ID(id)
	e.UserID = shared.ID(userID)
	e.AccountID = shared.ID(accountID)
	e.AllDay = allDay != 0
	e.Status = domain.EventStatus(status)
	e.Transparency = domain.Transparency(transp)
	e.Source = domain.EventSource(source)

	if e.Start, err = time.Parse(time.RFC3339, startAt); err != nil {
		return nil, fmt.Errorf("corrupt start_at for event %s: %w", id, err)
	}
	if e.End, err = time.Parse(time.RFC3339, endAt); err != nil {
		return nil, fmt.Errorf("corrupt end_at for event %s: %w", id, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for event %s: %w", id, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for event %s: %w", id, err)
	}

	if attendees != "" && attendees != "[]" {
		if err := json.Unmarshal([]byte(attendees), &e.Attendees); err != nil {
			return nil, fmt.Errorf("corrupt attendees for event %s: %w", id, err)
		}
	}
	if organizer != "" {
		var o domain.Organizer
		if err := json.Unmarshal([]byte(organizer), &o); err != nil {
			return nil, fmt.Errorf("corrupt organizer for event %s: %w", id, err)
		}
		e.Organizer = &o
	}
	if conference != "" {
		var c domain.ConferenceData
		if err := json.Unmarshal([]byte(conference), &c); err != nil {
			return nil, fmt.Errorf("corrupt conference for event %s: %w", id, err)
		}
		e.Conference = &c
	}

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
