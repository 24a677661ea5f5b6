// Package noop discards blob content, for running without raw-body storage.
package noop

import "context"

// BlobStore discards all writes and returns an empty URI.
type BlobStore struct{}

// New creates a new no-op blob store.
func New() *BlobStore {
	return &BlobStore{}
}

// PutObject does nothing.
func (BlobStore) PutObject(_ context.Context, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}
