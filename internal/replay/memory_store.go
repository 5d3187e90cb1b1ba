// Package replay stores workflow results by idempotency key so duplicate
// submissions return the first result instead of running again.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

type memoryEntry struct {
	result    []byte
	done      bool
	expiresAt time.Time
}

// MemoryStore keeps records in process. It only deduplicates within one
// process and loses everything on restart.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	ttl      time.Duration
	claimTTL time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl, claimTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		ttl:      ttl,
		claimTTL: claimTTL,
		now:      time.Now,
	}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (domain.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return domain.Claim{Exists: true}, nil
		}
		return domain.Claim{Exists: true, Result: append([]byte(nil), e.result...)}, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(s.claimTTL)}
	return domain.Claim{}, nil
}

func (s *MemoryStore) Store(_ context.Context, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{
		result:    append([]byte(nil), result...),
		done:      true,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.done {
		delete(s.entries, key)
	}
	return nil
}

// PurgeExpired drops expired records and returns how many were removed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var removed int64
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
