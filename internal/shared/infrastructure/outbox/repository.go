package outbox

import (
	"context"
	"time"

	"github.com/ramxx/tminus/internal/shared/infrastructure/database"
)

// Repository persists mirror intents.
type Repository interface {
	// Insert stores a new intent on the given executor. Callers pass the
	// transaction of the canonical write so the intent commits atomically
	// with it.
	Insert(ctx context.Context, exec database.Executor, msg *Message) error

	// FetchUnpublished returns up to limit intents that are due for
	// publication (never published, not dead-lettered, retry time reached).
	FetchUnpublished(ctx context.Context, limit int, now time.Time) ([]*Message, error)

	// MarkPublished records a successful publication.
	MarkPublished(ctx context.Context, id int64, at time.Time) error

	// MarkFailed records a failed publication attempt and schedules the
	// next retry.
	MarkFailed(ctx context.Context, id int64, attemptErr string, nextRetryAt time.Time) error

	// DeadLetter parks a message that exhausted its retries.
	DeadLetter(ctx context.Context, id int64, reason string, at time.Time) error

	// DeleteOlderThan removes published messages past the retention horizon.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
