// Package security validates storage keys and filesystem paths used by the
// proof blob store.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenKeyChars are characters that never appear in a well-formed
// storage key and indicate injection or traversal attempts.
var forbiddenKeyChars = []string{";", "&", "|", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\\", "\n", "\r", "\x00"}

// ValidateStorageKey checks that a storage key is a well-formed relative
// key: slash-separated, no empty segments, no dot segments, no forbidden
// characters. Returns the cleaned key.
func ValidateStorageKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key cannot be empty")
	}
	if len(key) > 1024 {
		return "", fmt.Errorf("storage key exceeds maximum length")
	}

	for _, char := range forbiddenKeyChars {
		if strings.Contains(key, char) {
			return "", fmt.Errorf("storage key contains forbidden character %q", char)
		}
	}

	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("storage key must be relative")
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == "" {
			return "", fmt.Errorf("storage key contains empty segment")
		}
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("storage key contains dot segment")
		}
	}

	return key, nil
}

// ValidateKeyOwnership checks that a storage key's first segment equals the
// owner identifier after the fixed prefix. Keys are shaped
// {prefix}/{owner}/..., e.g. proofs/usr_.../cmt_.../doc.pdf.
func ValidateKeyOwnership(key, prefix, owner string) error {
	cleaned, err := ValidateStorageKey(key)
	if err != nil {
		return err
	}
	want := prefix + "/" + owner + "/"
	if !strings.HasPrefix(cleaned, want) {
		return fmt.Errorf("storage key is not owned by caller")
	}
	return nil
}

// ResolveInDir maps a validated key into baseDir and guarantees the result
// stays inside it.
func ResolveInDir(key, baseDir string) (string, error) {
	cleaned, err := ValidateStorageKey(key)
	if err != nil {
		return "", err
	}
	if baseDir == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}

	cleanBase := filepath.Clean(baseDir)
	if !filepath.IsAbs(cleanBase) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		cleanBase = filepath.Join(cwd, cleanBase)
	}

	full := filepath.Join(cleanBase, filepath.FromSlash(cleaned))

	// Trailing separator prevents /foo matching /foobar.
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key escapes base directory")
	}
	return full, nil
}
