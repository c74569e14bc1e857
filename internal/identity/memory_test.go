package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("seeker")
	require.NoError(t, err)
	assert.Equal(t, RoleSeeker, role)

	role, err = ParseRole("employer")
	require.NoError(t, err)
	assert.Equal(t, RoleEmployer, role)

	_, err = ParseRole("admin")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestMemoryStoreUpsertCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Upsert(ctx, RoleSeeker, Profile{
		ProviderUserID: "U1",
		DisplayName:    "Somchai",
		PictureURL:     "https://example.com/p.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "U1", rec.ProviderUserID)
	assert.Equal(t, RoleSeeker, rec.Role)
	assert.Equal(t, "Somchai", rec.DisplayName)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, rec.CreatedAt, rec.LastLoginAt)
}

func TestMemoryStoreUpsertRefreshes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	_, err := s.Upsert(ctx, RoleSeeker, Profile{ProviderUserID: "U1", DisplayName: "Somchai"})
	require.NoError(t, err)

	now = base.Add(time.Hour)
	rec, err := s.Upsert(ctx, RoleSeeker, Profile{ProviderUserID: "U1", DisplayName: "Somchai W."})
	require.NoError(t, err)

	assert.Equal(t, "Somchai W.", rec.DisplayName)
	assert.Equal(t, base, rec.CreatedAt)
	assert.Equal(t, base.Add(time.Hour), rec.LastLoginAt)
}

func TestMemoryStoreRoleIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Upsert(ctx, RoleSeeker, Profile{ProviderUserID: "U1", DisplayName: "As seeker"})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, RoleEmployer, Profile{ProviderUserID: "U1", DisplayName: "As employer"})
	require.NoError(t, err)

	seeker, err := s.Get(ctx, RoleSeeker, "U1")
	require.NoError(t, err)
	employer, err := s.Get(ctx, RoleEmployer, "U1")
	require.NoError(t, err)

	assert.Equal(t, "As seeker", seeker.DisplayName)
	assert.Equal(t, "As employer", employer.DisplayName)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), RoleSeeker, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, uid := range []string{"U1", "U2", "U3"} {
		_, err := s.Upsert(ctx, RoleSeeker, Profile{ProviderUserID: uid})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, RoleEmployer, Profile{ProviderUserID: "U9"})
	require.NoError(t, err)

	seekers, err := s.List(ctx, RoleSeeker)
	require.NoError(t, err)
	assert.Len(t, seekers, 3)

	employers, err := s.List(ctx, RoleEmployer)
	require.NoError(t, err)
	assert.Len(t, employers, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Upsert(ctx, RoleSeeker, Profile{ProviderUserID: "U1", DisplayName: "original"})
	require.NoError(t, err)

	rec, err := s.Get(ctx, RoleSeeker, "U1")
	require.NoError(t, err)
	rec.DisplayName = "mutated"

	again, err := s.Get(ctx, RoleSeeker, "U1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.DisplayName)
}
