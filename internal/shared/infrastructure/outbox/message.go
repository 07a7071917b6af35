// Package outbox implements the transactional outbox for mirror write
// intents. Intents are inserted in the same transaction as the canonical
// write and published to the broker by a polling processor, so fan-out
// never precedes the durable commit.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ramxx/tminus/internal/shared/domain"
)

// Operation is the outbound mirror operation kind.
type Operation string

const (
	OperationUpsert Operation = "upsert"
	OperationDelete Operation = "delete"
)

// Message is one mirror write intent awaiting publication.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	UserID           domain.ID
	TargetAccountID  domain.ID
	CanonicalEventID domain.ID
	Operation        Operation
	EventVersion     int64
	RoutingKey       string
	Payload          json.RawMessage
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage creates a mirror intent.
func NewMessage(userID, targetAccountID, canonicalEventID domain.ID, op Operation, version int64, payload json.RawMessage) *Message {
	return &Message{
		EventID:          uuid.New(),
		UserID:           userID,
		TargetAccountID:  targetAccountID,
		CanonicalEventID: canonicalEventID,
		Operation:        op,
		EventVersion:     version,
		RoutingKey:       "mirror." + string(op) + "." + targetAccountID.String(),
		Payload:          payload,
		CreatedAt:        time.Now().UTC(),
	}
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// CanRetry returns true if the message can be retried.
func (m *Message) CanRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}

// Envelope is the wire form of an intent as consumed by the mirror writer.
type Envelope struct {
	EventID          string          `json:"event_id"`
	UserID           string          `json:"user_id"`
	TargetAccountID  string          `json:"target_account_id"`
	CanonicalEventID string          `json:"canonical_event_id"`
	Operation        string          `json:"operation"`
	EventVersion     int64           `json:"event_version"`
	Payload          json.RawMessage `json:"payload"`
}

// WireBytes serializes the intent for publication.
func (m *Message) WireBytes() ([]byte, error) {
	return json.Marshal(Envelope{
		EventID:          m.EventID.String(),
		UserID:           m.UserID.String(),
		TargetAccountID:  m.TargetAccountID.String(),
		CanonicalEventID: m.CanonicalEventID.String(),
		Operation:        string(m.Operation),
		EventVersion:     m.EventVersion,
		Payload:          m.Payload,
	})
}
