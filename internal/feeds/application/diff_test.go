package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	"github.com/ramxx/tminus/internal/store/domain"
)

var diffStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func storedEvent(uid string, seq int, title string) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		ID:            shared.NewID(shared.PrefixEvent),
		OriginEventID: uid,
		ICalUID:       uid,
		Title:         title,
		Start:         diffStart,
		End:           diffStart.Add(time.Hour),
		Status:        domain.EventStatusConfirmed,
		Transparency:  domain.TransparencyOpaque,
		Source:        domain.SourceICSFeed,
		Version:       int64(seq) + 1,
	}
}

func parsedEvent(uid string, seq int, title string) ParsedEvent {
	return ParsedEvent{
		UID:          uid,
		Sequence:     seq,
		Summary:      title,
		Start:        diffStart,
		End:          diffStart.Add(time.Hour),
		Status:       domain.EventStatusConfirmed,
		Transparency: domain.TransparencyOpaque,
	}
}

func TestDiffEvents_AddedModifiedDeleted(t *testing.T) {
	// Stored: A(SEQ=0), B, C. Feed now: A(SEQ=2), C, D.
	existing := []*domain.CanonicalEvent{
		storedEvent("A", 0, "Event A"),
		storedEvent("B", 0, "Event B"),
		storedEvent("C", 0, "Event C"),
	}
	parsed := []ParsedEvent{
		parsedEvent("A", 2, "Event A"),
		parsedEvent("C", 0, "Event C"),
		parsedEvent("D", 0, "Event D"),
	}

	diff := DiffEvents(existing, parsed)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "D", diff.Added[0].UID)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "A", diff.Modified[0].UID)
	require.Len(t, diff.Deleted, 1)
	assert.Equal(t, "B", diff.Deleted[0])
}

func TestDiffEvents_BodyChangeAtSameSequence(t *testing.T) {
	existing := []*domain.CanonicalEvent{storedEvent("A", 1, "Old title")}
	parsed := []ParsedEvent{parsedEvent("A", 1, "New title")}

	diff := DiffEvents(existing, parsed)
	require.Len(t, diff.Modified, 1)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Deleted)
}

func TestDiffEvents_NoChanges(t *testing.T) {
	existing := []*domain.CanonicalEvent{storedEvent("A", 1, "Title")}
	parsed := []ParsedEvent{parsedEvent("A", 1, "Title")}

	diff := DiffEvents(existing, parsed)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Deleted)
}

func TestDiffEvents_CancelledRowComingBackIsModified(t *testing.T) {
	tombstone := storedEvent("A", 1, "")
	tombstone.Cancel(diffStart)
	existing := []*domain.CanonicalEvent{tombstone}
	parsed := []ParsedEvent{parsedEvent("A", 1, "Revived")}

	diff := DiffEvents(existing, parsed)
	require.Len(t, diff.Modified, 1)
	assert.Empty(t, diff.Deleted)
}

func TestDiffEvents_CancelledRowAbsentIsNotReDeleted(t *testing.T) {
	tombstone := storedEvent("A", 1, "")
	tombstone.Cancel(diffStart)

	diff := DiffEvents([]*domain.CanonicalEvent{tombstone}, nil)
	assert.Empty(t, diff.Deleted)
}
