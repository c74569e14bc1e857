package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// ConfigurationError indicates missing or inconsistent operator
// configuration. It is fatal: surfaced at startup or on the first
// request that needs the missing value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// StoreBackend selects the identity store implementation
type StoreBackend string

const (
	StoreMemory    StoreBackend = "memory"
	StoreFirestore StoreBackend = "firestore"
)

// Config holds the auth service configuration, parsed from environment
// variables.
type Config struct {
	Addr string `env:"NEEZS_ADDR" envDefault:":8080"`

	// LINE Login channel
	ChannelID     string `env:"LINE_CHANNEL_ID"`
	ChannelSecret Secret `env:"LINE_CHANNEL_SECRET"`
	Scopes        string `env:"LINE_LOGIN_SCOPES" envDefault:"profile openid"`

	// Messaging API channel, used only for the logout revocation notice
	MessagingChannelToken Secret `env:"LINE_MESSAGING_CHANNEL_TOKEN"`

	// Redirect URI resolution inputs, in priority order after an explicit
	// request value: role-specific, then derived from AppDomain, then the
	// request origin.
	SeekerRedirectURI   string `env:"NEEZS_SEEKER_REDIRECT_URI"`
	EmployerRedirectURI string `env:"NEEZS_EMPLOYER_REDIRECT_URI"`
	AppDomain           string `env:"NEEZS_APP_DOMAIN"`

	// Signing material
	StateSigningKey  Secret        `env:"NEEZS_STATE_SIGNING_KEY"`
	CredentialSecret Secret        `env:"NEEZS_CREDENTIAL_SECRET"`
	CredentialTTL    time.Duration `env:"NEEZS_CREDENTIAL_TTL" envDefault:"10m"`

	// Identity store
	Backend             StoreBackend `env:"NEEZS_STORE_BACKEND" envDefault:"memory"`
	FirestoreProject    string       `env:"NEEZS_FIRESTORE_PROJECT"`
	FirestoreCollection string       `env:"NEEZS_FIRESTORE_COLLECTION" envDefault:"identities"`

	// Dependency breaker policy for calls to the identity provider
	BreakerThreshold int           `env:"NEEZS_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"NEEZS_BREAKER_COOLDOWN" envDefault:"30s"`

	// Operator stats endpoint (basic auth); password is a bcrypt hash
	StatsUser         string `env:"NEEZS_STATS_USER"`
	StatsPasswordHash Secret `env:"NEEZS_STATS_PASSWORD_HASH"`
}

// Load parses and validates the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the service relies on.
func Validate(cfg *Config) error {
	if cfg.ChannelID == "" {
		return &ConfigurationError{Field: "LINE_CHANNEL_ID", Reason: "required"}
	}
	if cfg.ChannelSecret == "" {
		return &ConfigurationError{Field: "LINE_CHANNEL_SECRET", Reason: "required"}
	}
	if len(cfg.StateSigningKey) < 32 {
		return &ConfigurationError{Field: "NEEZS_STATE_SIGNING_KEY", Reason: "must be at least 32 bytes"}
	}
	if len(cfg.CredentialSecret) < 32 {
		return &ConfigurationError{Field: "NEEZS_CREDENTIAL_SECRET", Reason: "must be at least 32 bytes"}
	}
	if cfg.Backend == StoreFirestore && cfg.FirestoreProject == "" {
		return &ConfigurationError{Field: "NEEZS_FIRESTORE_PROJECT", Reason: "required for firestore backend"}
	}
	if cfg.BreakerThreshold <= 0 {
		return &ConfigurationError{Field: "NEEZS_BREAKER_THRESHOLD", Reason: "must be positive"}
	}
	return nil
}

// RedirectURIForRole returns the configured redirect URI for a role,
// empty when not configured.
func (c *Config) RedirectURIForRole(role identity.Role) string {
	switch role {
	case identity.RoleSeeker:
		return c.SeekerRedirectURI
	case identity.RoleEmployer:
		return c.EmployerRedirectURI
	}
	return ""
}
