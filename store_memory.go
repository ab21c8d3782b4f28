package gamefi

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is the default IdempotencyStore.
//
// It is suitable for single-instance deployments where write history does
// not need to be shared across processes. For load-balanced deployments use
// a shared backend such as idempotency.RedisStore or idempotency.PostgresStore.
//
// Terminal records expire after the retention window and are cleaned up
// lazily; active records are kept until they reach a terminal status.
type InMemoryStore struct {
	mu        sync.Mutex
	records   map[string]*PendingWrite
	retention time.Duration
	now       func() time.Time
}

// NewInMemoryStore creates an in-memory store that keeps terminal records
// for the given retention window.
func NewInMemoryStore(retention time.Duration) *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[string]*PendingWrite),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns a copy of the record, or nil if absent or expired
func (s *InMemoryStore) Get(_ context.Context, fingerprint string) (*PendingWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fingerprint]
	if !ok {
		return nil, nil
	}
	if s.expiredLocked(rec, s.now()) {
		delete(s.records, fingerprint)
		return nil, nil
	}
	return rec.Clone(), nil
}

// Put stores a copy of the record
func (s *InMemoryStore) Put(_ context.Context, write *PendingWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[write.Fingerprint] = write.Clone()
	if write.Status.Terminal() {
		s.cleanupExpiredLocked()
	}
	return nil
}

// Claim stores a copy of the record when the fingerprint is free or its
// active record went stale
func (s *InMemoryStore) Claim(_ context.Context, write *PendingWrite, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[write.Fingerprint]; ok && !s.expiredLocked(rec, s.now()) {
		if rec.Status.Terminal() || !rec.UpdatedAt.Before(staleBefore) {
			return false, nil
		}
	}
	s.records[write.Fingerprint] = write.Clone()
	return true, nil
}

// Has reports whether a live record exists
func (s *InMemoryStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	rec, err := s.Get(ctx, fingerprint)
	return rec != nil, err
}

// Prune removes terminal records last updated before the cut-off
func (s *InMemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, rec := range s.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(before) {
			delete(s.records, fp)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records held, expired ones included
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *InMemoryStore) expiredLocked(rec *PendingWrite, now time.Time) bool {
	return s.retention > 0 && rec.Status.Terminal() && now.Sub(rec.UpdatedAt) > s.retention
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for fp, rec := range s.records {
		if s.expiredLocked(rec, now) {
			delete(s.records, fp)
		}
	}
}

var _ IdempotencyStore = (*InMemoryStore)(nil)
