package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/authgate/internal/domain"
)

// InMemorySessionStore backs tests and single-process deployments. The mutex
// makes every operation atomic, which is exactly the guarantee the Redis
// implementation gets from single-command execution.
type InMemorySessionStore struct {
	mu        sync.Mutex
	sessions  map[string]memoryEntry
	byUser    map[uint]map[string]struct{}
	blacklist map[string]time.Time
	states    map[string]memoryEntry
	now       func() time.Time
}

type memoryEntry struct {
	record    domain.SessionRecord
	payload   string
	expiresAt time.Time
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions:  make(map[string]memoryEntry),
		byUser:    make(map[uint]map[string]struct{}),
		blacklist: make(map[string]time.Time),
		states:    make(map[string]memoryEntry),
		now:       time.Now,
	}
}

// WithClock overrides the store's time source for expiry tests.
func (s *InMemorySessionStore) WithClock(now func() time.Time) *InMemorySessionStore {
	s.now = now
	return s
}

func (s *InMemorySessionStore) PutSession(_ context.Context, rec domain.SessionRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.TokenID] = memoryEntry{record: rec, expiresAt: s.now().Add(ttl)}
	ids, ok := s.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[rec.UserID] = ids
	}
	ids[rec.TokenID] = struct{}{}
	return nil
}

func (s *InMemorySessionStore) GetSession(_ context.Context, tokenID string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[tokenID]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, ErrSessionNotFound
	}
	rec := entry.record
	return &rec, nil
}

func (s *InMemorySessionStore) ConsumeSession(_ context.Context, tokenID string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeLocked(tokenID)
}

func (s *InMemorySessionStore) consumeLocked(tokenID string) (*domain.SessionRecord, error) {
	entry, ok := s.sessions[tokenID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(s.sessions, tokenID)
	if ids, ok := s.byUser[entry.record.UserID]; ok {
		delete(ids, tokenID)
		if len(ids) == 0 {
			delete(s.byUser, entry.record.UserID)
		}
	}
	if s.now().After(entry.expiresAt) {
		return nil, ErrSessionNotFound
	}
	rec := entry.record
	return &rec, nil
}

func (s *InMemorySessionStore) DeleteSession(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.consumeLocked(tokenID)
	return nil
}

func (s *InMemorySessionStore) ListUserSessions(_ context.Context, userID uint) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []domain.SessionRecord
	for id := range s.byUser[userID] {
		entry, ok := s.sessions[id]
		if !ok || s.now().After(entry.expiresAt) {
			continue
		}
		records = append(records, entry.record)
	}
	return records, nil
}

func (s *InMemorySessionStore) ConsumeUserSessions(_ context.Context, userID uint) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var consumed []domain.SessionRecord
	for id := range s.byUser[userID] {
		if rec, err := s.consumeLocked(id); err == nil {
			consumed = append(consumed, *rec)
		}
	}
	return consumed, nil
}

func (s *InMemorySessionStore) BlacklistAccessToken(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[tokenID] = s.now().Add(ttl)
	return nil
}

func (s *InMemorySessionStore) IsAccessTokenBlacklisted(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.blacklist[tokenID]
	if !ok {
		return false, nil
	}
	if s.now().After(until) {
		delete(s.blacklist, tokenID)
		return false, nil
	}
	return true, nil
}

func (s *InMemorySessionStore) PutOAuthState(_ context.Context, state, payload string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = memoryEntry{payload: payload, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemorySessionStore) ConsumeOAuthState(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[state]
	if !ok {
		return "", ErrStateNotFound
	}
	delete(s.states, state)
	if s.now().After(entry.expiresAt) {
		return "", ErrStateNotFound
	}
	return entry.payload, nil
}
