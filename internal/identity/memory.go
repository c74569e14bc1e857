package identity

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory identity store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // key: role + ":" + providerUserID
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func key(role Role, providerUserID string) string {
	return string(role) + ":" + providerUserID
}

// Upsert implements Store
func (s *MemoryStore) Upsert(_ context.Context, role Role, profile Profile) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := key(role, profile.ProviderUserID)
	rec, ok := s.records[k]
	if !ok {
		rec = &Record{
			ProviderUserID: profile.ProviderUserID,
			Role:           role,
			CreatedAt:      now,
		}
		s.records[k] = rec
	}
	rec.DisplayName = profile.DisplayName
	rec.PictureURL = profile.PictureURL
	rec.StatusMessage = profile.StatusMessage
	rec.UpdatedAt = now
	rec.LastLoginAt = now

	cp := *rec
	return &cp, nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, role Role, providerUserID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key(role, providerUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, role Role) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Role == role {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
