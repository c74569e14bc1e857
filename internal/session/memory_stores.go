package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// MemoryCredentialStore is an in-process CredentialStore. The session
// credential is a JWT; the client decodes its claims without verifying
// the signature. Verification is the backend's job, the client only
// needs the subject and role for display and routing.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	current *AuthUser
	events  chan AuthEvent
}

// NewMemoryCredentialStore creates a signed-out store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		events: make(chan AuthEvent, 16),
	}
}

type credentialClaims struct {
	Role identity.Role `json:"role"`
	jwt.RegisteredClaims
}

// SignInWithCredential implements CredentialStore
func (s *MemoryCredentialStore) SignInWithCredential(_ context.Context, sessionCredential string) (*AuthUser, error) {
	var claims credentialClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(sessionCredential, &claims); err != nil {
		return nil, errors.New("malformed session credential")
	}
	if claims.Subject == "" {
		return nil, errors.New("session credential has no subject")
	}

	user := &AuthUser{
		UID:        claims.Subject,
		Role:       claims.Role,
		Credential: sessionCredential,
	}

	s.mu.Lock()
	s.current = user
	s.mu.Unlock()

	s.emit(AuthEvent{User: user})
	return user, nil
}

// SignOut implements CredentialStore
func (s *MemoryCredentialStore) SignOut(_ context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.emit(AuthEvent{User: nil})
	return nil
}

// Current implements CredentialStore
func (s *MemoryCredentialStore) Current() *AuthUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Events implements CredentialStore
func (s *MemoryCredentialStore) Events() <-chan AuthEvent {
	return s.events
}

func (s *MemoryCredentialStore) emit(ev AuthEvent) {
	select {
	case s.events <- ev:
	default:
		// Drop when nobody is draining; Current() stays authoritative.
	}
}

// MemoryStateStore is an in-process StateStore.
type MemoryStateStore struct {
	mu              sync.RWMutex
	snapshot        Snapshot
	hasSnapshot     bool
	suppressedUntil time.Time
	lastActivity    time.Time
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

// Snapshot implements StateStore
func (s *MemoryStateStore) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.hasSnapshot
}

// SetSnapshot implements StateStore
func (s *MemoryStateStore) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.hasSnapshot = true
}

// SuppressedUntil implements StateStore
func (s *MemoryStateStore) SuppressedUntil() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suppressedUntil
}

// SetSuppressedUntil implements StateStore
func (s *MemoryStateStore) SetSuppressedUntil(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressedUntil = t
}

// LastActivity implements StateStore
func (s *MemoryStateStore) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetLastActivity implements StateStore
func (s *MemoryStateStore) SetLastActivity(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = t
}

// Clear implements StateStore. The suppression timestamp survives.
func (s *MemoryStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{}
	s.hasSnapshot = false
	s.lastActivity = time.Time{}
}
