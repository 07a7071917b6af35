package security

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStorageKey(t *testing.T) {
	good := []string{
		"proofs/usr_1/cmt_1/2026-03-02T09-00-00Z.pdf",
		"a/b/c",
	}
	for _, key := range good {
		_, err := ValidateStorageKey(key)
		assert.NoError(t, err, key)
	}

	bad := []string{
		"",
		"/absolute/key",
		"a//b",
		"a/../b",
		"a/./b",
		"a;rm -rf /",
		"a\x00b",
		strings.Repeat("a", 1025),
	}
	for _, key := range bad {
		_, err := ValidateStorageKey(key)
		assert.Error(t, err, key)
	}
}

func TestValidateKeyOwnership(t *testing.T) {
	owner := "usr_1"
	assert.NoError(t, ValidateKeyOwnership("proofs/usr_1/cmt_1/doc.pdf", "proofs", owner))
	assert.Error(t, ValidateKeyOwnership("proofs/usr_2/cmt_1/doc.pdf", "proofs", owner))
	assert.Error(t, ValidateKeyOwnership("other/usr_1/doc.pdf", "proofs", owner))
	assert.Error(t, ValidateKeyOwnership("proofs/usr_1", "proofs", owner), "no trailing segment")
	assert.Error(t, ValidateKeyOwnership("proofs/usr_10/doc.pdf", "proofs", owner), "prefix must match a whole segment")
}

func TestResolveInDir(t *testing.T) {
	base := t.TempDir()

	path, err := ResolveInDir("proofs/usr_1/doc.pdf", base)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, base+string(filepath.Separator)))

	_, err = ResolveInDir("../outside", base)
	assert.Error(t, err)
}
