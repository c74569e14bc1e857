// Package idp abstracts the external identity provider. The concrete
// implementation talks to LINE Login; handlers and the session layer
// only see the Provider interface so tests run against a fake.
package idp

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// Provider abstracts identity provider operations.
type Provider interface {
	// Name returns the provider identifier (e.g., "line").
	Name() string

	// AuthCodeURL builds the provider authorize URL with the given state,
	// S256 code challenge and redirect URI.
	AuthCodeURL(state, challenge, redirectURI string) string

	// Exchange trades an authorization code (plus the PKCE verifier, when
	// the flow issued one) for provider tokens.
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error)

	// VerifyAccessToken checks that an access token is live and was
	// issued to our channel. Used on the in-app path where the token
	// arrives from the embedded SDK rather than from our own exchange.
	VerifyAccessToken(ctx context.Context, accessToken string) error

	// Profile fetches the user profile snapshot for an access token.
	Profile(ctx context.Context, accessToken string) (*identity.Profile, error)

	// PushMessage sends a text message to a provider user. Best-effort
	// transport for the logout revocation notice.
	PushMessage(ctx context.Context, providerUserID, text string) error
}

// TokenExchangeError reports an upstream failure during the code or
// token exchange, carrying the provider status and body for logs.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// ProfileFetchError reports an upstream failure fetching the profile.
type ProfileFetchError struct {
	StatusCode int
	Err        error
}

func (e *ProfileFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("profile fetch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("profile fetch failed: %v", e.Err)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }
