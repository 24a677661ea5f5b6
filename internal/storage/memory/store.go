// Package memory provides in-memory result, target-index, and blob stores
// for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// ResultStore keeps the latest result per target in a map, matching the
// idempotent-upsert contract of the Postgres store.
type ResultStore struct {
	mu      sync.RWMutex
	records map[string]fetchd.ResultRecord
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{records: make(map[string]fetchd.ResultRecord)}
}

// Upsert overwrites the record for the target.
func (s *ResultStore) Upsert(_ context.Context, record fetchd.ResultRecord) error {
	if record.Target == "" {
		return fmt.Errorf("record target is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Target] = record
	return nil
}

// Get returns the stored record for a target, for assertions.
func (s *ResultStore) Get(target string) (fetchd.ResultRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[target]
	return rec, ok
}

// Len reports how many targets have results.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TargetIndex is an in-memory append-only completed-targets set.
type TargetIndex struct {
	mu        sync.RWMutex
	completed map[string]time.Time
}

// NewTargetIndex creates an empty TargetIndex.
func NewTargetIndex() *TargetIndex {
	return &TargetIndex{completed: make(map[string]time.Time)}
}

// IsCompleted reports whether the target has a completed record.
func (s *TargetIndex) IsCompleted(_ context.Context, target string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[target]
	return ok, nil
}

// MarkCompleted appends the target, keeping the earliest timestamp.
func (s *TargetIndex) MarkCompleted(_ context.Context, target string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[target]; !ok {
		s.completed[target] = at
	}
	return nil
}

// BlobStore stores blob content in memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns stored blob content, for assertions.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	return b, ok
}
