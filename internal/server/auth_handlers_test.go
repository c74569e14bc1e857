package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/breaker"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/cookie"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/credential"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/crypto"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/idp"
)

type fakeProvider struct {
	exchangeCalls atomic.Int64
	verifyCalls   atomic.Int64
	profileCalls  atomic.Int64
	pushCalls     atomic.Int64

	lastRedirectURI string

	exchangeErr error
	verifyErr   error
	profileErr  error
	pushErr     error
	profile     identity.Profile
}

func (f *fakeProvider) Name() string { return "line" }

func (f *fakeProvider) AuthCodeURL(state, challenge, redirectURI string) string {
	f.lastRedirectURI = redirectURI
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "channel-1")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("redirect_uri", redirectURI)
	return "https://idp.example/authorize?" + q.Encode()
}

func (f *fakeProvider) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	f.exchangeCalls.Add(1)
	f.lastRedirectURI = redirectURI
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-token"}, nil
}

func (f *fakeProvider) VerifyAccessToken(ctx context.Context, accessToken string) error {
	f.verifyCalls.Add(1)
	return f.verifyErr
}

func (f *fakeProvider) Profile(ctx context.Context, accessToken string) (*identity.Profile, error) {
	f.profileCalls.Add(1)
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := f.profile
	return &p, nil
}

func (f *fakeProvider) PushMessage(ctx context.Context, providerUserID, text string) error {
	f.pushCalls.Add(1)
	return f.pushErr
}

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestHandlers(provider idp.Provider) (*AuthHandlers, *identity.MemoryStore, *credential.Minter) {
	cfg := config.Config{
		ChannelID:        "channel-1",
		ChannelSecret:    "secret-1",
		StateSigningKey:  config.Secret(testSigningKey),
		CredentialSecret: config.Secret("fedcba9876543210fedcba9876543210"),
		CredentialTTL:    10 * time.Minute,
	}
	store := identity.NewMemoryStore()
	minter := credential.NewMinter([]byte(cfg.CredentialSecret), cfg.CredentialTTL)
	breakers := map[identity.Role]*breaker.Breaker{
		identity.RoleSeeker:   breaker.New("idp-seeker", 5, 30*time.Second),
		identity.RoleEmployer: breaker.New("idp-employer", 5, 30*time.Second),
	}
	return NewAuthHandlers(cfg, provider, store, minter, breakers), store, minter
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	handler(w, r)
	return w
}

// signedState produces a state the handlers accept, the same way
// AuthorizeHandler does.
func signedState(t *testing.T, role identity.Role, redirectPath string) string {
	t.Helper()
	signer := crypto.NewTokenSigner([]byte(testSigningKey), cookie.FlowTTL)
	state, err := signer.Sign(statePayload{
		Role:         role,
		RedirectPath: redirectPath,
		Nonce:        "nonce-1",
		IssuedAt:     time.Now(),
	})
	require.NoError(t, err)
	return state
}

func TestAuthorizeHandler(t *testing.T) {
	provider := &fakeProvider{}
	h, _, _ := newTestHandlers(provider)

	w := postJSON(t, h.AuthorizeHandler, map[string]string{
		"role":         "seeker",
		"redirectPath": "/jobs/123",
		"redirectUri":  "https://app.example.com/seeker/callback",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	u, err := url.Parse(resp["authorizeUrl"])
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "https://app.example.com/seeker/callback", q.Get("redirect_uri"))

	// Flow cookies carry the same state and the matching verifier
	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	stateCookie := cookies[cookie.StateCookie]
	require.NotNil(t, stateCookie)
	assert.Equal(t, q.Get("state"), stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)

	verifierCookie := cookies[cookie.VerifierCookie]
	require.NotNil(t, verifierCookie)
	assert.Equal(t, q.Get("code_challenge"), crypto.ChallengeS256(verifierCookie.Value))

	// The state round-trips role and redirect path
	var payload statePayload
	signer := crypto.NewTokenSigner([]byte(testSigningKey), cookie.FlowTTL)
	require.NoError(t, signer.Verify(q.Get("state"), &payload))
	assert.Equal(t, identity.RoleSeeker, payload.Role)
	assert.Equal(t, "/jobs/123", payload.RedirectPath)
}

func TestAuthorizeRejectsUnknownRole(t *testing.T) {
	h, _, _ := newTestHandlers(&fakeProvider{})

	w := postJSON(t, h.AuthorizeHandler, map[string]string{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h.AuthorizeHandler, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorizeRedirectURIResolution(t *testing.T) {
	t.Run("role config", func(t *testing.T) {
		provider := &fakeProvider{}
		h, _, _ := newTestHandlers(provider)
		h.cfg.SeekerRedirectURI = "https://cfg.example.com/seeker/callback"

		w := postJSON(t, h.AuthorizeHandler, map[string]string{"role": "seeker"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://cfg.example.com/seeker/callback", provider.lastRedirectURI)
	})

	t.Run("app domain", func(t *testing.T) {
		provider := &fakeProvider{}
		h, _, _ := newTestHandlers(provider)
		h.cfg.AppDomain = "neezs.app"

		w := postJSON(t, h.AuthorizeHandler, map[string]string{"role": "employer"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://neezs.app/employer/callback", provider.lastRedirectURI)
	})

	t.Run("request origin", func(t *testing.T) {
		provider := &fakeProvider{}
		h, _, _ := newTestHandlers(provider)

		raw, _ := json.Marshal(map[string]string{"role": "seeker"})
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
		r.Header.Set("Origin", "https://origin.example.com")
		w := httptest.NewRecorder()
		h.AuthorizeHandler(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://origin.example.com/seeker/callback", provider.lastRedirectURI)
	})

	t.Run("nothing resolvable", func(t *testing.T) {
		h, _, _ := newTestHandlers(&fakeProvider{})
		w := postJSON(t, h.AuthorizeHandler, map[string]string{"role": "seeker"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestCallbackStateMismatch(t *testing.T) {
	provider := &fakeProvider{}
	h, _, _ := newTestHandlers(provider)
	handler := h.CallbackHandler(identity.RoleSeeker)

	goodState := signedState(t, identity.RoleSeeker, "/")

	w := postJSON(t, handler, map[string]string{
		"code":  "auth-code",
		"state": "attacker-state",
	}, &http.Cookie{Name: cookie.StateCookie, Value: goodState})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Invalid state", resp.Message)

	// The provider was never contacted
	assert.Equal(t, int64(0), provider.exchangeCalls.Load())
	assert.Equal(t, int64(0), provider.profileCalls.Load())
}

func TestCallbackMissingStateCookie(t *testing.T) {
	provider := &fakeProvider{}
	h, _, _ := newTestHandlers(provider)
	handler := h.CallbackHandler(identity.RoleSeeker)

	state := signedState(t, identity.RoleSeeker, "/")
	w := postJSON(t, handler, map[string]string{"code": "auth-code", "state": state})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(0), provider.exchangeCalls.Load())
}

func TestCallbackRejectsForeignRoleState(t *testing.T) {
	provider := &fakeProvider{}
	h, _, _ := newTestHandlers(provider)
	handler := h.CallbackHandler(identity.RoleEmployer)

	// A seeker state replayed against the employer callback
	state := signedState(t, identity.RoleSeeker, "/")
	w := postJSON(t, handler, map[string]string{"code": "auth-code", "state": state},
		&http.Cookie{Name: cookie.StateCookie, Value: state})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(0), provider.exchangeCalls.Load())
}

func TestCallbackMissingCode(t *testing.T) {
	h, _, _ := newTestHandlers(&fakeProvider{})
	w := postJSON(t, h.CallbackHandler(identity.RoleSeeker), map[string]string{"state": "s"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackSuccess(t *testing.T) {
	provider := &fakeProvider{
		profile: identity.Profile{
			ProviderUserID: "U1234",
			DisplayName:    "Somchai",
			PictureURL:     "https://example.com/p.jpg",
		},
	}
	h, store, minter := newTestHandlers(provider)
	handler := h.CallbackHandler(identity.RoleSeeker)

	state := signedState(t, identity.RoleSeeker, "/jobs/42")
	w := postJSON(t, handler, map[string]string{
		"code":        "auth-code",
		"state":       state,
		"redirectUri": "https://app.example.com/seeker/callback",
	},
		&http.Cookie{Name: cookie.StateCookie, Value: state},
		&http.Cookie{Name: cookie.VerifierCookie, Value: "the-verifier"},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp exchangeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	// The credential is role-bound
	claims, err := minter.Verify(resp.SessionCredential)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleSeeker, claims.Role)
	assert.Equal(t, "U1234", claims.Subject)
	assert.Equal(t, "line", claims.Provider)

	assert.Equal(t, "U1234", resp.User.UID)
	assert.Equal(t, "Somchai", resp.User.DisplayName)
	assert.Equal(t, "/jobs/42", resp.RedirectPath)

	// The identity record was persisted
	rec, err := store.Get(context.Background(), identity.RoleSeeker, "U1234")
	require.NoError(t, err)
	assert.Equal(t, "Somchai", rec.DisplayName)

	// The single-use flow cookies were cleared
	cleared := 0
	for _, c := range w.Result().Cookies() {
		if c.Name == cookie.StateCookie || c.Name == cookie.VerifierCookie {
			assert.Equal(t, -1, c.MaxAge)
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)
}

func TestCallbackClearsCookiesOnExchangeFailure(t *testing.T) {
	provider := &fakeProvider{
		exchangeErr: &idp.TokenExchangeError{StatusCode: 400, Body: "invalid_grant"},
	}
	h, _, _ := newTestHandlers(provider)
	handler := h.CallbackHandler(identity.RoleSeeker)

	state := signedState(t, identity.RoleSeeker, "/")
	w := postJSON(t, handler, map[string]string{"code": "auth-code", "state": state},
		&http.Cookie{Name: cookie.StateCookie, Value: state},
	)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	cleared := 0
	for _, c := range w.Result().Cookies() {
		if c.MaxAge == -1 {
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)
}

func TestBridgeTokenSuccess(t *testing.T) {
	provider := &fakeProvider{
		profile: identity.Profile{ProviderUserID: "U5678", DisplayName: "Malee"},
	}
	h, _, minter := newTestHandlers(provider)

	w := postJSON(t, h.BridgeTokenHandler(identity.RoleEmployer), map[string]string{
		"accessToken": "liff-access-token",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp exchangeResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))

	claims, err := minter.Verify(resp.SessionCredential)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleEmployer, claims.Role)
	assert.Equal(t, "U5678", claims.Subject)

	assert.Equal(t, int64(1), provider.verifyCalls.Load())
	assert.Equal(t, int64(1), provider.profileCalls.Load())
}

func TestBridgeTokenMissingToken(t *testing.T) {
	h, _, _ := newTestHandlers(&fakeProvider{})
	w := postJSON(t, h.BridgeTokenHandler(identity.RoleSeeker), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBridgeTokenVerifyFailure(t *testing.T) {
	provider := &fakeProvider{
		verifyErr: &idp.TokenExchangeError{Err: errors.New("access token expired")},
	}
	h, _, _ := newTestHandlers(provider)

	w := postJSON(t, h.BridgeTokenHandler(identity.RoleSeeker), map[string]string{
		"accessToken": "stale-token",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBridgeTokenCircuitOpens(t *testing.T) {
	provider := &fakeProvider{
		verifyErr: &idp.TokenExchangeError{Err: errors.New("upstream down")},
	}
	h, _, _ := newTestHandlers(provider)
	handler := h.BridgeTokenHandler(identity.RoleSeeker)

	// Threshold is five: the first five failures hit the provider
	for i := 0; i < 5; i++ {
		w := postJSON(t, handler, map[string]string{"accessToken": "t"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	}
	require.Equal(t, int64(5), provider.verifyCalls.Load())

	// The sixth fails fast without a provider call
	w := postJSON(t, handler, map[string]string{"accessToken": "t"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, int64(5), provider.verifyCalls.Load())

	// The employer breaker is untouched
	okProvider := h.breakers[identity.RoleEmployer].Stats()
	assert.Equal(t, breaker.StateClosed, okProvider.State)
}

func TestProfileFetchFailure(t *testing.T) {
	provider := &fakeProvider{
		profileErr: &idp.ProfileFetchError{StatusCode: 500},
	}
	h, _, _ := newTestHandlers(provider)

	w := postJSON(t, h.BridgeTokenHandler(identity.RoleSeeker), map[string]string{
		"accessToken": "t",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRevokeNotifyHandler(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		provider := &fakeProvider{}
		h, _, _ := newTestHandlers(provider)

		w := postJSON(t, h.RevokeNotifyHandler, map[string]string{
			"providerUserId": "U1",
			"message":        "signed out",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]bool
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp["ok"])
		assert.Equal(t, int64(1), provider.pushCalls.Load())
	})

	t.Run("push failure", func(t *testing.T) {
		provider := &fakeProvider{pushErr: fmt.Errorf("push message: status 500")}
		h, _, _ := newTestHandlers(provider)

		w := postJSON(t, h.RevokeNotifyHandler, map[string]string{"providerUserId": "U1"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("missing user id", func(t *testing.T) {
		h, _, _ := newTestHandlers(&fakeProvider{})
		w := postJSON(t, h.RevokeNotifyHandler, map[string]string{"message": "bye"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSanitizeRedirectPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/jobs":                   "/jobs",
		"/jobs/123?tab=applied":   "/jobs/123?tab=applied",
		"//evil.example.com":      "/",
		"https://evil.example.co": "/",
		"jobs":                    "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeRedirectPath(in), "input %q", in)
	}
}
