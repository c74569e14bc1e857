// Package session owns the client-side authentication state machine:
// one Controller per marketplace role, fed by the credential store's
// change stream and backed by the auth service endpoints.
package session

import (
	"context"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// ClientSession is the live session snapshot for one role. It exists
// if and only if the credential store holds a valid credential.
type ClientSession struct {
	UID               string
	Role              identity.Role
	Profile           *identity.Profile
	SessionStart      time.Time
	LastActivity      time.Time
	LoginAttemptCount int
}

// AuthUser is the credential store's view of the signed-in user.
type AuthUser struct {
	UID        string
	Role       identity.Role
	Credential string
}

// AuthEvent is one element of the credential store's change stream.
// User is nil when the store signed out.
type AuthEvent struct {
	User *AuthUser
}

// CredentialStore is the persistent credential holder. Its change
// stream is the single source of truth for session state: the
// Controller's event loop is the only writer of ClientSession, so UI
// reads are always consistent with the last committed auth event.
type CredentialStore interface {
	// SignInWithCredential exchanges a backend-minted session credential
	// for a persistent local credential and emits a signed-in event.
	SignInWithCredential(ctx context.Context, sessionCredential string) (*AuthUser, error)

	// SignOut clears the persistent credential and emits a signed-out
	// event.
	SignOut(ctx context.Context) error

	// Current returns the signed-in user, nil when signed out.
	Current() *AuthUser

	// Events returns the change stream.
	Events() <-chan AuthEvent
}

// Snapshot is the locally persisted profile snapshot.
type Snapshot struct {
	UID     string            `json:"uid"`
	Role    identity.Role     `json:"role"`
	Profile *identity.Profile `json:"profile,omitempty"`
}

// StateStore is the local-storage equivalent. Everything except the
// suppression timestamp is cleared on logout.
type StateStore interface {
	Snapshot() (Snapshot, bool)
	SetSnapshot(Snapshot)

	SuppressedUntil() time.Time
	SetSuppressedUntil(time.Time)

	LastActivity() time.Time
	SetLastActivity(time.Time)

	// Clear removes the snapshot and activity timestamp but keeps the
	// suppression timestamp, so auto-login stays suppressed across the
	// logout itself.
	Clear()
}

// User is the minimal user projection returned by the exchange
// endpoints.
type User struct {
	UID         string        `json:"uid"`
	DisplayName string        `json:"displayName"`
	PhotoURL    string        `json:"photoURL,omitempty"`
	Role        identity.Role `json:"role"`
}

// ExchangeResult is the success payload of both exchange endpoints.
type ExchangeResult struct {
	SessionCredential string            `json:"sessionCredential"`
	Profile           *identity.Profile `json:"profile"`
	User              User              `json:"user"`
	RedirectPath      string            `json:"redirectPath,omitempty"`
}

// AuthAPI is the auth service surface the controller depends on.
type AuthAPI interface {
	// Authorize asks the server for a provider authorize URL.
	Authorize(ctx context.Context, role identity.Role, redirectPath string) (string, error)

	// ExchangeCallback finishes the redirect flow after the provider
	// sent the browser back with a code.
	ExchangeCallback(ctx context.Context, role identity.Role, code, state, redirectURI string) (*ExchangeResult, error)

	// ExchangeBridgeToken mints a credential from an in-app access token.
	ExchangeBridgeToken(ctx context.Context, role identity.Role, accessToken string) (*ExchangeResult, error)
}

// Policy bounds the controller's timers.
type Policy struct {
	// SuppressWindow blocks auto-login after an explicit logout.
	SuppressWindow time.Duration

	// SessionTimeout is the inactivity budget before silent logout.
	SessionTimeout time.Duration

	// SweepInterval is how often the timeout check runs.
	SweepInterval time.Duration

	// LoginRetryBase seeds RetryLogin's exponential backoff.
	LoginRetryBase time.Duration

	// GoodbyeMessage is pushed to the provider user on logout.
	GoodbyeMessage string
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		SuppressWindow: 30 * time.Second,
		SessionTimeout: 24 * time.Hour,
		SweepInterval:  time.Minute,
		LoginRetryBase: 500 * time.Millisecond,
		GoodbyeMessage: "You have been signed out.",
	}
}
