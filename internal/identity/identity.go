// Package identity stores the per-role identity records created when a
// provider user first authenticates. Records are keyed by provider user
// id and scoped to a role: the same LINE user appears as two distinct
// records when they use both sides of the marketplace.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role distinguishes the two marketplace sides. Every credential,
// identity record and session is scoped to exactly one role.
type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleEmployer Role = "employer"
)

// ParseRole validates a role string from a request.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSeeker, RoleEmployer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ErrNotFound is returned when an identity record doesn't exist
var ErrNotFound = errors.New("identity not found")

// Profile is the immutable snapshot fetched from the provider per login.
type Profile struct {
	ProviderUserID string `json:"userId"`
	DisplayName    string `json:"displayName"`
	PictureURL     string `json:"pictureUrl,omitempty"`
	StatusMessage  string `json:"statusMessage,omitempty"`
}

// Record is a stored identity, updated on every login.
type Record struct {
	ProviderUserID string    `json:"provider_user_id" firestore:"provider_user_id"`
	Role           Role      `json:"role" firestore:"role"`
	DisplayName    string    `json:"display_name" firestore:"display_name"`
	PictureURL     string    `json:"picture_url,omitempty" firestore:"picture_url,omitempty"`
	StatusMessage  string    `json:"status_message,omitempty" firestore:"status_message,omitempty"`
	CreatedAt      time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"updated_at"`
	LastLoginAt    time.Time `json:"last_login_at" firestore:"last_login_at"`
}

// Store persists identity records.
type Store interface {
	// Upsert creates the record on first login, otherwise refreshes the
	// display fields and LastLoginAt. Returns the stored record.
	Upsert(ctx context.Context, role Role, profile Profile) (*Record, error)

	// Get fetches a record, ErrNotFound when absent.
	Get(ctx context.Context, role Role, providerUserID string) (*Record, error)

	// List returns all records for a role.
	List(ctx context.Context, role Role) ([]*Record, error)
}
