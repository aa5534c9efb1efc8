package repository

import (
	"context"
	"sync"
	"time"

	"github.com/openstable/cdpcore/internal/model"
)

// MemoryScanLock is the single-node fallback when redis is unavailable. It
// mimics the TTL semantics so scanner behavior stays the same.
type MemoryScanLock struct {
	mu      sync.Mutex
	expires time.Time
}

func NewMemoryScanLock() *MemoryScanLock {
	return &MemoryScanLock{}
}

func (l *MemoryScanLock) TryAcquire(_ context.Context, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Before(l.expires) {
		return false, nil
	}
	l.expires = now.Add(ttl)
	return true, nil
}

// MemoryCursorStore keeps the scanner cursor in process memory.
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor model.ScanCursor
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

func (s *MemoryCursorStore) Load(_ context.Context) (model.ScanCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *MemoryCursorStore) Save(_ context.Context, cursor model.ScanCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}
