package cookie

import (
	"net/http"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/envutil"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// Cookie names used by the OAuth flow
const (
	StateCookie    = "oauth_state"
	VerifierCookie = "pkce_verifier"
)

// FlowTTL bounds how long an authorization round-trip may take.
// Both flow cookies expire together.
const FlowTTL = 5 * time.Minute

// SetFlow sets the short-lived state and PKCE verifier cookies for an
// authorization round-trip. Both are HttpOnly and SameSite=Lax so the
// provider redirect back to us still carries them.
func SetFlow(w http.ResponseWriter, state, verifier string) {
	secure := !envutil.IsDev()
	maxAge := int(FlowTTL.Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     VerifierCookie,
		Value:    verifier,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})

	log.LogDebugWithFields("cookie", "Flow cookies set", map[string]any{
		"maxAge": FlowTTL.String(),
		"secure": secure,
	})
}

// ClearFlow removes both flow cookies. The state and verifier are
// single-use: call this after any exchange attempt, success or failure.
func ClearFlow(w http.ResponseWriter) {
	Clear(w, StateCookie)
	Clear(w, VerifierCookie)
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetState retrieves the state cookie value, empty if absent.
func GetState(r *http.Request) string {
	v, _ := Get(r, StateCookie)
	return v
}

// GetVerifier retrieves the PKCE verifier cookie value, empty if absent.
func GetVerifier(r *http.Request) string {
	v, _ := Get(r, VerifierCookie)
	return v
}
