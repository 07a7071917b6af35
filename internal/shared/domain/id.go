package domain

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ID is a prefixed ULID identifier, e.g. "evt_01J8X2M5NQZT5C4D7R9W0KQH3F".
// The prefix names the entity kind; the ULID part is lexicographically
// sortable by creation time.
type ID string

// Entity kind prefixes.
const (
	PrefixUser       = "usr"
	PrefixAccount    = "acc"
	PrefixEvent      = "evt"
	PrefixConstraint = "cst"
	PrefixVipPolicy  = "vip"
	PrefixAllocation = "alc"
	PrefixCommitment = "cmt"
	PrefixSession    = "obs"
	PrefixProof      = "prf"
)

// NewID generates a new identifier with the given kind prefix.
func NewID(prefix string) ID {
	return ID(prefix + "_" + ulid.Make().String())
}

// ParseID validates that s is a well-formed prefixed ULID with the expected
// prefix. An empty expected prefix accepts any known-shaped ID.
func ParseID(s, prefix string) (ID, error) {
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed identifier %q", s)
	}
	if prefix != "" && parts[0] != prefix {
		return "", fmt.Errorf("identifier %q: expected prefix %q", s, prefix)
	}
	if _, err := ulid.ParseStrict(parts[1]); err != nil {
		return "", fmt.Errorf("identifier %q: %w", s, err)
	}
	return ID(s), nil
}

// String returns the string form of the ID.
func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool { return id == "" }

// Prefix returns the kind prefix of the ID, or "" if malformed.
func (id ID) Prefix() string {
	if i := strings.IndexByte(string(id), '_'); i > 0 {
		return string(id)[:i]
	}
	return ""
}
