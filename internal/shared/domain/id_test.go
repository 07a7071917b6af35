package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_PrefixAndShape(t *testing.T) {
	id := NewID(PrefixEvent)
	assert.Equal(t, PrefixEvent, id.Prefix())
	assert.False(t, id.IsZero())

	parsed, err := ParseID(id.String(), PrefixEvent)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNewID_Unique(t *testing.T) {
	seen := map[ID]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID(PrefixAccount)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestParseID_Rejections(t *testing.T) {
	tests := []string{
		"",
		"noprefix",
		"evt_",
		"_01J8X2M5NQZT5C4D7R9W0KQH3F",
		"evt_notaulid",
	}
	for _, raw := range tests {
		_, err := ParseID(raw, "")
		assert.Error(t, err, raw)
	}

	id := NewID(PrefixEvent)
	_, err := ParseID(id.String(), PrefixAccount)
	assert.Error(t, err, "prefix mismatch")
}

func TestKindOf_And_CodeOf(t *testing.T) {
	err := E(KindConflict, "session_exists", "already there")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "session_exists", CodeOf(err))

	wrapped := Wrap(KindNotFound, "missing", assertErr{})
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(assertErr{}), "unclassified errors are internal")
	assert.Equal(t, "internal", CodeOf(assertErr{}))
	assert.True(t, IsKind(ErrSessionExists, KindConflict))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
