package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/breaker"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/config"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/cookie"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/credential"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/crypto"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/idp"
	jsonwriter "github.com/yokthanwa1993/neezs-app-sub000/internal/json"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/metrics"
)

// AuthHandlers provides the authentication HTTP handlers.
type AuthHandlers struct {
	cfg        config.Config
	provider   idp.Provider
	store      identity.Store
	minter     *credential.Minter
	stateToken crypto.TokenSigner
	breakers   map[identity.Role]*breaker.Breaker
}

// statePayload is embedded in the signed OAuth state parameter. The
// role and redirect path round-trip through the provider so the
// callback can land the user back where they started.
type statePayload struct {
	Role         identity.Role `json:"role"`
	RedirectPath string        `json:"redirect_path"`
	Nonce        string        `json:"nonce"`
	IssuedAt     time.Time     `json:"issued_at"`
}

// userProjection is the minimal user shape returned to the client.
type userProjection struct {
	UID         string        `json:"uid"`
	DisplayName string        `json:"displayName"`
	PhotoURL    string        `json:"photoURL,omitempty"`
	Role        identity.Role `json:"role"`
}

// exchangeResponse is the success payload of both exchange endpoints.
type exchangeResponse struct {
	SessionCredential string            `json:"sessionCredential"`
	Profile           *identity.Profile `json:"profile"`
	User              userProjection    `json:"user"`
	RedirectPath      string            `json:"redirectPath,omitempty"`
}

// NewAuthHandlers creates the handlers. One breaker per role guards
// calls to the identity provider; roles never share a breaker.
func NewAuthHandlers(
	cfg config.Config,
	provider idp.Provider,
	store identity.Store,
	minter *credential.Minter,
	breakers map[identity.Role]*breaker.Breaker,
) *AuthHandlers {
	return &AuthHandlers{
		cfg:        cfg,
		provider:   provider,
		store:      store,
		minter:     minter,
		stateToken: crypto.NewTokenSigner([]byte(cfg.StateSigningKey), cookie.FlowTTL),
		breakers:   breakers,
	}
}

type authorizeRequest struct {
	Role         string `json:"role"`
	RedirectPath string `json:"redirectPath"`
	RedirectURI  string `json:"redirectUri,omitempty"`
}

// AuthorizeHandler builds the provider authorize URL with PKCE and
// issues the anti-CSRF state. It never contacts the provider; the only
// side effect is the pair of short-lived flow cookies.
func (h *AuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}

	role, err := identity.ParseRole(req.Role)
	if err != nil {
		jsonwriter.WriteBadRequest(w, "Missing or unknown role")
		return
	}

	redirectURI, err := h.resolveRedirectURI(r, role, req.RedirectURI)
	if err != nil {
		log.LogErrorWithFields("auth", "No redirect URI resolvable", map[string]any{
			"role":  role,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Redirect URI not configured")
		return
	}

	verifier, challenge, err := crypto.GeneratePKCE()
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	state, err := h.stateToken.Sign(statePayload{
		Role:         role,
		RedirectPath: sanitizeRedirectPath(req.RedirectPath),
		Nonce:        nonce,
		IssuedAt:     time.Now(),
	})
	if err != nil {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	cookie.SetFlow(w, state, verifier)

	authorizeURL := h.provider.AuthCodeURL(state, challenge, redirectURI)

	log.LogInfoWithFields("auth", "Authorize URL issued", map[string]any{
		"role":        role,
		"redirectUri": redirectURI,
	})

	_ = jsonwriter.Write(w, map[string]string{"authorizeUrl": authorizeURL})
}

type callbackRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
	Role        string `json:"role"`
	State       string `json:"state"`
}

// CallbackHandler finishes the redirect flow: state and cookie
// validation strictly precede the provider token exchange, then the
// profile fetch, identity upsert and credential mint. The flow cookies
// are single-use and cleared whether the exchange succeeds or not.
func (h *AuthHandlers) CallbackHandler(role identity.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req callbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonwriter.WriteBadRequest(w, "Invalid request body")
			return
		}

		if req.Code == "" {
			jsonwriter.WriteBadRequest(w, "Missing authorization code")
			return
		}

		// Anti-CSRF: the state parameter must exactly equal the value we
		// set on this browser before redirecting out. Reject silently,
		// without touching the provider or the cookies.
		cookieState := cookie.GetState(r)
		if cookieState == "" || req.State != cookieState {
			log.LogWarnWithFields("auth", "State mismatch on callback", map[string]any{"role": role})
			metrics.RecordLogin(string(role), "callback", "state_mismatch")
			jsonwriter.WriteBadRequest(w, "Invalid state")
			return
		}

		var payload statePayload
		if err := h.stateToken.Verify(req.State, &payload); err != nil {
			metrics.RecordLogin(string(role), "callback", "state_mismatch")
			jsonwriter.WriteBadRequest(w, "Invalid state")
			return
		}
		if payload.Role != role {
			metrics.RecordLogin(string(role), "callback", "state_mismatch")
			jsonwriter.WriteBadRequest(w, "Invalid state")
			return
		}

		verifier := cookie.GetVerifier(r)

		// From here on the verifier is spent: clear the flow cookies on
		// every outcome.
		cookie.ClearFlow(w)

		resp, err := h.exchangeAndMint(r, role, func(ctx context.Context) (string, error) {
			token, err := h.provider.Exchange(ctx, req.Code, verifier, req.RedirectURI)
			if err != nil {
				return "", err
			}
			return token.AccessToken, nil
		})
		if err != nil {
			h.writeExchangeError(w, role, "callback", err)
			return
		}

		resp.RedirectPath = payload.RedirectPath
		metrics.RecordLogin(string(role), "callback", "ok")
		_ = jsonwriter.Write(w, resp)
	}
}

type bridgeTokenRequest struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
}

// BridgeTokenHandler mints a credential from an access token obtained
// inside the embedded LIFF browser. No state or cookie validation
// applies: the token itself proves an authenticated in-app session,
// but it is verified against our channel before being trusted.
func (h *AuthHandlers) BridgeTokenHandler(role identity.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bridgeTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonwriter.WriteBadRequest(w, "Invalid request body")
			return
		}
		if req.AccessToken == "" {
			jsonwriter.WriteBadRequest(w, "Missing access token")
			return
		}

		resp, err := h.exchangeAndMint(r, role, func(ctx context.Context) (string, error) {
			if err := h.provider.VerifyAccessToken(ctx, req.AccessToken); err != nil {
				return "", err
			}
			return req.AccessToken, nil
		})
		if err != nil {
			h.writeExchangeError(w, role, "bridge", err)
			return
		}

		metrics.RecordLogin(string(role), "bridge", "ok")
		_ = jsonwriter.Write(w, resp)
	}
}

type revokeNotifyRequest struct {
	ProviderUserID string `json:"providerUserId"`
	Message        string `json:"message"`
}

// RevokeNotifyHandler pushes a best-effort logout notice to the user.
// Client logout never depends on this succeeding.
func (h *AuthHandlers) RevokeNotifyHandler(w http.ResponseWriter, r *http.Request) {
	var req revokeNotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ProviderUserID == "" {
		jsonwriter.WriteBadRequest(w, "Missing providerUserId")
		return
	}

	message := req.Message
	if message == "" {
		message = "You have been signed out."
	}

	if err := h.provider.PushMessage(r.Context(), req.ProviderUserID, message); err != nil {
		log.LogWarnWithFields("auth", "Revocation notice failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteBadGateway(w, "Provider push failed")
		return
	}

	_ = jsonwriter.Write(w, map[string]bool{"ok": true})
}

// StatsHandler reports breaker snapshots for operators.
func (h *AuthHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := make([]breaker.Stats, 0, len(h.breakers))
	for _, b := range h.breakers {
		stats = append(stats, b.Stats())
	}
	_ = jsonwriter.Write(w, map[string]any{"breakers": stats})
}

// exchangeAndMint runs the shared tail of both exchange paths: obtain a
// provider access token (path-specific), fetch the profile, upsert the
// identity record and mint the role-scoped credential. Provider calls
// run through the role's breaker.
func (h *AuthHandlers) exchangeAndMint(
	r *http.Request,
	role identity.Role,
	obtainToken func(ctx context.Context) (string, error),
) (*exchangeResponse, error) {
	ctx := r.Context()
	brk := h.breakers[role]

	var accessToken string
	err := brk.Execute(ctx, func(ctx context.Context) error {
		var err error
		accessToken, err = obtainToken(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var profile *identity.Profile
	err = brk.Execute(ctx, func(ctx context.Context) error {
		var err error
		profile, err = h.provider.Profile(ctx, accessToken)
		return err
	})
	if err != nil {
		return nil, err
	}

	rec, err := h.store.Upsert(ctx, role, *profile)
	if err != nil {
		return nil, fmt.Errorf("storing identity: %w", err)
	}

	cred, err := h.minter.Mint(rec.ProviderUserID, role, h.provider.Name())
	if err != nil {
		return nil, fmt.Errorf("minting credential: %w", err)
	}

	return &exchangeResponse{
		SessionCredential: cred,
		Profile:           profile,
		User: userProjection{
			UID:         rec.ProviderUserID,
			DisplayName: rec.DisplayName,
			PhotoURL:    rec.PictureURL,
			Role:        role,
		},
	}, nil
}

// writeExchangeError maps exchange failures onto the response codes of
// the error taxonomy.
func (h *AuthHandlers) writeExchangeError(w http.ResponseWriter, role identity.Role, path string, err error) {
	var openErr *breaker.CircuitOpenError
	var exchangeErr *idp.TokenExchangeError
	var profileErr *idp.ProfileFetchError

	switch {
	case errors.As(err, &openErr):
		metrics.RecordLogin(string(role), path, "circuit_open")
		jsonwriter.WriteServiceUnavailable(w, "Identity provider temporarily unavailable")
	case errors.As(err, &exchangeErr):
		metrics.RecordLogin(string(role), path, "token_exchange")
		log.LogErrorWithFields("auth", "Token exchange failed", map[string]any{
			"role":   role,
			"status": exchangeErr.StatusCode,
			"body":   exchangeErr.Body,
		})
		jsonwriter.WriteBadGateway(w, "Token exchange failed")
	case errors.As(err, &profileErr):
		metrics.RecordLogin(string(role), path, "profile_fetch")
		log.LogErrorWithFields("auth", "Profile fetch failed", map[string]any{
			"role":   role,
			"status": profileErr.StatusCode,
		})
		jsonwriter.WriteBadGateway(w, "Profile fetch failed")
	default:
		metrics.RecordLogin(string(role), path, "internal")
		log.LogErrorWithFields("auth", "Exchange failed", map[string]any{
			"role":  role,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Authentication failed")
	}
}

// resolveRedirectURI picks the redirect URI by priority: explicit
// request value, role-specific configuration, app-domain derivation,
// request-origin derivation.
func (h *AuthHandlers) resolveRedirectURI(r *http.Request, role identity.Role, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if uri := h.cfg.RedirectURIForRole(role); uri != "" {
		return uri, nil
	}
	if h.cfg.AppDomain != "" {
		return fmt.Sprintf("https://%s/%s/callback", h.cfg.AppDomain, role), nil
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return fmt.Sprintf("%s://%s/%s/callback", u.Scheme, u.Host, role), nil
		}
	}
	return "", &config.ConfigurationError{Field: "redirect_uri", Reason: "no value resolvable"}
}

// sanitizeRedirectPath keeps the round-tripped redirect path relative
// so a forged state can't bounce the user to a foreign origin.
func sanitizeRedirectPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "/"
	}
	return p
}
