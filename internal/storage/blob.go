package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

type BlobStore interface {
	// Put stores r under key and returns the canonical key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, key string) (string, error) // fs returns "file://..." for dev
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// CleanKey normalizes a slash-separated key and rejects absolute paths and
// anything escaping the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrInvalidKey
	}
	return c, nil
}

// NewKey returns a fresh key under prefix keeping the lowercased extension of name.
func NewKey(prefix, name string) string {
	return path.Join(prefix, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
}
