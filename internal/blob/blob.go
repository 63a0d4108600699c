// Package blob stores document files by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrExists is returned by Create when the key is taken.
	ErrExists = errors.New("blob already exists")
)

// Object describes a stored blob.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Store is a flat key/value blob store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data under key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte) error
	// Create writes data only if key does not exist yet.
	Create(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// DocumentKey returns the key for a document file.
func DocumentKey(documentID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return "documents/" + documentID + "/" + name
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" {
		return errors.New("blob key is empty")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
