package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
)

// SQLRepository implements Repository against the mirror_outbox table. The
// same SQL serves both drivers; placeholders are rebound for PostgreSQL.
type SQLRepository struct {
	conn database.Connection
}

// NewSQLRepository creates an outbox repository.
func NewSQLRepository(conn database.Connection) *SQLRepository {
	return &SQLRepository{conn: conn}
}

func (r *SQLRepository) rebind(query string) string {
	return database.Rebind(r.conn.Driver(), query)
}

// Insert stores a new intent on the given executor.
func (r *SQLRepository) Insert(ctx context.Context, exec database.Executor, msg *Message) error {
	query := r.rebind(`
		INSERT INTO mirror_outbox (
			event_id, user_id, target_account_id, canonical_event_id,
			operation, event_version, routing_key, payload, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := exec.Exec(ctx, query,
		msg.EventID.String(),
		msg.UserID.String(),
		msg.TargetAccountID.String(),
		msg.CanonicalEventID.String(),
		string(msg.Operation),
		msg.EventVersion,
		msg.RoutingKey,
		string(msg.Payload),
		msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mirror intent: %w", err)
	}
	return nil
}

// FetchUnpublished returns intents due for publication in insertion order.
func (r *SQLRepository) FetchUnpublished(ctx context.Context, limit int, now time.Time) ([]*Message, error) {
	query := r.rebind(`
		SELECT id, event_id, user_id, target_account_id, canonical_event_id,
		       operation, event_version, routing_key, payload, created_at,
		       retry_count, next_retry_at, last_error
		FROM mirror_outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY id
		LIMIT ?
	`)

	rows, err := r.conn.Query(ctx, query, now.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished intents: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m           Message
			eventID     string
			userID      string
			accountID   string
			canonicalID string
			operation   string
			payload     string
			createdAt   string
			nextRetryAt *string
		)
		if err := rows.Scan(
			&m.ID, &eventID, &userID, &accountID, &canonicalID,
			&operation, &m.EventVersion, &m.RoutingKey, &payload, &createdAt,
			&m.RetryCount, &nextRetryAt, &m.LastError,
		); err != nil {
			return nil, err
		}

		m.EventID, err = uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("corrupt event_id in outbox row %d: %w", m.ID, err)
		}
		m.UserID = domain.ID(userID)
		m.TargetAccountID = domain.ID(accountID)
		m.CanonicalEventID = domain.ID(canonicalID)
		m.Operation = Operation(operation)
		m.Payload = []byte(payload)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("corrupt created_at in outbox row %d: %w", m.ID, err)
		}
		if nextRetryAt != nil {
			t, err := time.Parse(time.RFC3339Nano, *nextRetryAt)
			if err != nil {
				return nil, fmt.Errorf("corrupt next_retry_at in outbox row %d: %w", m.ID, err)
			}
			m.NextRetryAt = &t
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MarkPublished records a successful publication.
func (r *SQLRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	query := r.rebind(`UPDATE mirror_outbox SET published_at = ? WHERE id = ?`)
	_, err := r.conn.Exec(ctx, query, at.UTC().Format(time.RFC3339Nano), id)
	return err
}

// MarkFailed records a failed attempt and schedules the next retry.
func (r *SQLRepository) MarkFailed(ctx context.Context, id int64, attemptErr string, nextRetryAt time.Time) error {
	query := r.rebind(`
		UPDATE mirror_outbox
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    next_retry_at = ?
		WHERE id = ?
	`)
	_, err := r.conn.Exec(ctx, query, attemptErr, nextRetryAt.UTC().Format(time.RFC3339Nano), id)
	return err
}

// DeadLetter parks a message that exhausted its retries.
func (r *SQLRepository) DeadLetter(ctx context.Context, id int64, reason string, at time.Time) error {
	query := r.rebind(`
		UPDATE mirror_outbox
		SET dead_lettered_at = ?, dead_letter_reason = ?
		WHERE id = ?
	`)
	_, err := r.conn.Exec(ctx, query, at.UTC().Format(time.RFC3339Nano), reason, id)
	return err
}

// DeleteOlderThan removes published messages past the retention horizon.
func (r *SQLRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.rebind(`
		DELETE FROM mirror_outbox
		WHERE published_at IS NOT NULL AND published_at < ?
	`)
	res, err := r.conn.Exec(ctx, query, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
