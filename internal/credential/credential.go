// Package credential mints and verifies the short-lived, role-scoped
// session credentials the client exchanges for its persistent local
// session.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

const issuer = "neezs-auth"

// ErrInvalidCredential indicates the credential failed validation.
var ErrInvalidCredential = errors.New("invalid session credential")

// Claims are the JWT claims of a session credential.
type Claims struct {
	Role     identity.Role `json:"role"`
	Provider string        `json:"provider"`
	jwt.RegisteredClaims
}

// Minter signs and verifies session credentials with HS256.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter creates a minter. ttl bounds credential lifetime; the
// client is expected to exchange the credential promptly.
func NewMinter(secret []byte, ttl time.Duration) *Minter {
	return &Minter{secret: secret, ttl: ttl, now: time.Now}
}

// Mint signs a credential for a provider user in a role.
func (m *Minter) Mint(providerUserID string, role identity.Role, provider string) (string, error) {
	providerUserID = strings.TrimSpace(providerUserID)
	if providerUserID == "" {
		return "", errors.New("provider user id is required")
	}

	now := m.now().UTC()
	claims := Claims{
		Role:     role,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   providerUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and required claims.
func (m *Minter) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidCredential
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredential
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if _, err := identity.ParseRole(string(claims.Role)); err != nil {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
