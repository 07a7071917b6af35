// Package infrastructure provides the content-addressed proof document
// store. The filesystem implementation writes each document next to a
// metadata sidecar; an object-storage implementation can replace it behind
// the same interface.
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ramxx/tminus/internal/shared/infrastructure/security"
)

// ErrBlobNotFound is returned when a key does not resolve to a document.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores proof documents under slash-separated keys with
// string metadata.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
}

// FSBlobStore is the filesystem BlobStore.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a filesystem store rooted at dir.
func NewFSBlobStore(dir string) (*FSBlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob store root cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}
	return &FSBlobStore{root: abs}, nil
}

// Put writes the document and its metadata sidecar atomically enough for
// single-writer use: data first, sidecar second.
func (s *FSBlobStore) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	path, err := security.ResolveInDir(key, s.root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}

	if len(metadata) == 0 {
		return nil
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(path+".meta.json", meta, 0o644)
}

// Get reads a document and its metadata.
func (s *FSBlobStore) Get(_ context.Context, key string) ([]byte, map[string]string, error) {
	path, err := security.ResolveInDir(key, s.root)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, err
	}

	metadata := map[string]string{}
	if meta, err := os.ReadFile(path + ".meta.json"); err == nil {
		if err := json.Unmarshal(meta, &metadata); err != nil {
			return nil, nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
		}
	}
	return data, metadata, nil
}
