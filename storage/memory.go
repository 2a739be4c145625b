package storage

import (
	"context"
	"sync"

	"mintgate/notify"
)

// MemoryStore is an in-memory twin of RedisStore. It keeps local development
// and tests free of external dependencies; it intentionally favors clarity
// over performance.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]struct{}
	tokens  map[uint64]notify.NotificationToken
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		members: make(map[string]struct{}),
		tokens:  make(map[uint64]notify.NotificationToken),
	}
}

// Health reports readiness. The in-memory store is always reachable.
func (s *MemoryStore) Health(context.Context) error { return nil }

// Contains implements allowlist.SetStore.
func (s *MemoryStore) Contains(_ context.Context, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[member]
	return ok, nil
}

// Add implements allowlist.SetStore with the same add-if-absent semantics as
// the Redis SADD it stands in for.
func (s *MemoryStore) Add(_ context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[member]; ok {
		return false, nil
	}
	s.members[member] = struct{}{}
	return true, nil
}

// Members implements allowlist.SetStore.
func (s *MemoryStore) Members(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.members))
	for member := range s.members {
		members = append(members, member)
	}
	return members, nil
}

// SaveToken implements notify.TokenStore.
func (s *MemoryStore) SaveToken(_ context.Context, token notify.NotificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.FID] = token
	return nil
}

// Token implements notify.TokenStore.
func (s *MemoryStore) Token(_ context.Context, fid uint64) (*notify.NotificationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[fid]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

// DeleteToken implements notify.TokenStore.
func (s *MemoryStore) DeleteToken(_ context.Context, fid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, fid)
	return nil
}
