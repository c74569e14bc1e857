package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/breaker"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/bridge"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/notify"
)

// ControllerState is the controller's lifecycle state.
type ControllerState string

const (
	StateUnauthenticated ControllerState = "unauthenticated"
	StateAuthenticating  ControllerState = "authenticating"
	StateAuthenticated   ControllerState = "authenticated"
	StateLoggingOut      ControllerState = "logging-out"
)

// ErrSessionExpired marks an inactivity timeout. It triggers a silent
// logout and is never surfaced as a hard error.
var ErrSessionExpired = errors.New("session expired")

// ErrBridgeUnavailable is returned when the in-app path is requested
// but the bridge never became ready.
var ErrBridgeUnavailable = errors.New("bridge unavailable")

// Deps are the controller's collaborators. Each role gets its own full
// set: controllers, breakers and bridges are never shared across roles,
// so one role's failures cannot starve the other.
type Deps struct {
	API      AuthAPI
	Bridge   *bridge.Initializer
	Creds    CredentialStore
	State    StateStore
	Notifier *notify.Notifier

	// Backend guards calls to the auth service; BridgeDep guards bridge
	// initialization. Independent failure domains.
	Backend   *breaker.Breaker
	BridgeDep *breaker.Breaker

	// Navigate sends the browser to the provider authorize URL.
	Navigate func(url string)

	// CurrentPath reports where login started, for the post-callback
	// redirect. Defaults to "/".
	CurrentPath func() string
}

// Controller owns one role's authentication state machine.
type Controller struct {
	role     identity.Role
	api      AuthAPI
	bridge   *bridge.Initializer
	creds    CredentialStore
	store    StateStore
	notifier *notify.Notifier
	backend  *breaker.Breaker
	bridgeBk *breaker.Breaker
	navigate func(url string)
	path     func() string
	policy   Policy
	now      func() time.Time

	mu       sync.RWMutex
	state    ControllerState
	session  *ClientSession
	attempts int

	loginInFlight atomic.Bool
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithPolicy overrides the default policy
func WithPolicy(p Policy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController builds a controller for one role. The same factory
// serves both marketplace sides so their failure-handling semantics
// are identical by construction.
func NewController(role identity.Role, deps Deps, opts ...ControllerOption) *Controller {
	c := &Controller{
		role:     role,
		api:      deps.API,
		bridge:   deps.Bridge,
		creds:    deps.Creds,
		store:    deps.State,
		notifier: deps.Notifier,
		backend:  deps.Backend,
		bridgeBk: deps.BridgeDep,
		navigate: deps.Navigate,
		path:     deps.CurrentPath,
		policy:   DefaultPolicy(),
		now:      time.Now,
		state:    StateUnauthenticated,
	}
	if c.navigate == nil {
		c.navigate = func(string) {}
	}
	if c.path == nil {
		c.path = func() string { return "/" }
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Role returns the controller's role.
func (c *Controller) Role() identity.Role { return c.role }

// State returns the lifecycle state.
func (c *Controller) State() ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns a copy of the live session, nil when signed out.
func (c *Controller) Session() *ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// IsAuthenticated reports whether a valid credential is held. The
// credential store is authoritative, not the cached state.
func (c *Controller) IsAuthenticated() bool {
	return c.creds.Current() != nil
}

// Degraded reports whether the auth backend's breaker is not closed.
func (c *Controller) Degraded() bool {
	return c.backend.Stats().State != breaker.StateClosed
}

// Run drives the controller: it applies the credential store's change
// stream (the single writer of ClientSession), sweeps for inactivity
// timeouts and fires auto-login when conditions hold. Returns when ctx
// is done.
func (c *Controller) Run(ctx context.Context) {
	c.ensureBridge(ctx)
	c.maybeAutoLogin(ctx)

	ticker := time.NewTicker(c.policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.creds.Events():
			c.applyAuthEvent(ev)
		case <-ticker.C:
			c.sweep(ctx)
			c.maybeAutoLogin(ctx)
		}
	}
}

// Login starts an authentication attempt. Inside the embedded bridge it
// exchanges the in-app access token directly; otherwise it fetches the
// authorize URL and navigates away, leaving resumption to
// CompleteLogin. Only one attempt runs per controller instance;
// concurrent calls are no-ops.
func (c *Controller) Login(ctx context.Context) error {
	if !c.loginInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer c.loginInFlight.Store(false)

	c.setState(StateAuthenticating)
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	err := c.login(ctx)
	if err != nil {
		// A failed login never leaves a partial session behind.
		c.setState(StateUnauthenticated)
		log.LogWarnWithFields("session", "Login failed", map[string]any{
			"role":  c.role,
			"error": err.Error(),
		})
	}
	return err
}

func (c *Controller) login(ctx context.Context) error {
	if c.bridge.IsInEmbeddedBrowser() {
		token := c.bridge.AccessToken()
		if token == "" {
			sdk := c.bridge.SDK()
			if sdk == nil {
				return ErrBridgeUnavailable
			}
			// No live provider session: hand control to the in-app
			// login, which re-enters through the bridge on completion.
			return sdk.Login()
		}
		return c.exchangeBridgeToken(ctx, token)
	}

	var authorizeURL string
	err := c.backend.Execute(ctx, func(ctx context.Context) error {
		var err error
		authorizeURL, err = c.api.Authorize(ctx, c.role, c.path())
		return err
	})
	if err != nil {
		return err
	}

	// Redirect out of process; the callback page resumes the flow.
	c.navigate(authorizeURL)
	return nil
}

// CompleteLogin finishes the redirect flow after the provider sent the
// browser back with a code and state.
func (c *Controller) CompleteLogin(ctx context.Context, code, state, redirectURI string) error {
	c.setState(StateAuthenticating)

	var result *ExchangeResult
	err := c.backend.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.api.ExchangeCallback(ctx, c.role, code, state, redirectURI)
		return err
	})
	if err != nil {
		c.setState(StateUnauthenticated)
		return err
	}

	return c.commitExchange(ctx, result)
}

func (c *Controller) exchangeBridgeToken(ctx context.Context, accessToken string) error {
	var result *ExchangeResult
	err := c.backend.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.api.ExchangeBridgeToken(ctx, c.role, accessToken)
		return err
	})
	if err != nil {
		return err
	}
	return c.commitExchange(ctx, result)
}

// commitExchange persists the profile snapshot and hands the credential
// to the store. The resulting auth event, not this function, is what
// creates the ClientSession.
func (c *Controller) commitExchange(ctx context.Context, result *ExchangeResult) error {
	c.store.SetSnapshot(Snapshot{
		UID:     result.User.UID,
		Role:    c.role,
		Profile: result.Profile,
	})
	c.store.SetLastActivity(c.now())

	if _, err := c.creds.SignInWithCredential(ctx, result.SessionCredential); err != nil {
		c.setState(StateUnauthenticated)
		return err
	}
	return nil
}

// RetryLogin wraps Login with exponential backoff, re-throwing the last
// error after maxAttempts.
func (c *Controller) RetryLogin(ctx context.Context, maxAttempts int) error {
	backoff := c.policy.LoginRetryBase
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = c.Login(ctx); err == nil {
			return nil
		}
		if attempt < maxAttempts-1 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			backoff *= 2
		}
	}
	return err
}

// Logout is error-tolerant end-to-end: the revocation notice, provider
// sign-out and bridge teardown may all fail, but local session clearing
// always completes.
func (c *Controller) Logout(ctx context.Context) {
	c.setState(StateLoggingOut)

	// Suppress auto-login first so a racing bridge check can't log us
	// straight back in.
	c.store.SetSuppressedUntil(c.now().Add(c.policy.SuppressWindow))

	if uid := c.resolveProviderUserID(ctx); uid != "" && c.notifier != nil {
		c.notifier.Notify(ctx, uid, c.policy.GoodbyeMessage)
	}

	if err := c.creds.SignOut(ctx); err != nil {
		log.LogWarnWithFields("session", "Credential sign-out failed", map[string]any{
			"role":  c.role,
			"error": err.Error(),
		})
	}

	c.store.Clear()

	if c.bridge.IsInEmbeddedBrowser() {
		if sdk := c.bridge.SDK(); sdk != nil {
			if sdk.IsLoggedIn() {
				if err := sdk.Logout(); err != nil {
					log.LogWarnWithFields("session", "Bridge logout failed", map[string]any{
						"role":  c.role,
						"error": err.Error(),
					})
				}
			}
			if err := sdk.CloseWindow(); err != nil {
				log.LogWarnWithFields("session", "Bridge close failed", map[string]any{
					"role":  c.role,
					"error": err.Error(),
				})
			}
		}
	}

	c.mu.Lock()
	c.session = nil
	c.state = StateUnauthenticated
	c.mu.Unlock()

	log.LogInfoWithFields("session", "Logged out", map[string]any{"role": c.role})
}

// Touch refreshes the activity timestamp. Wire it to passive UI
// listeners (click, keypress, scroll).
func (c *Controller) Touch() {
	now := c.now()
	c.store.SetLastActivity(now)

	c.mu.Lock()
	if c.session != nil {
		c.session.LastActivity = now
	}
	c.mu.Unlock()
}

// resolveProviderUserID prefers the live bridge session, then the
// cached snapshot, then the credential store.
func (c *Controller) resolveProviderUserID(ctx context.Context) string {
	if c.bridge.IsInEmbeddedBrowser() && c.bridge.IsProviderLoggedIn() {
		if profile := c.bridge.Profile(ctx); profile != nil {
			return profile.ProviderUserID
		}
	}
	if snap, ok := c.store.Snapshot(); ok && snap.UID != "" {
		return snap.UID
	}
	if user := c.creds.Current(); user != nil {
		return user.UID
	}
	return ""
}

// ensureBridge initializes the bridge through its breaker. A failed or
// open-circuit bridge degrades the in-app path but never blocks the
// redirect path.
func (c *Controller) ensureBridge(ctx context.Context) {
	if c.bridgeBk == nil {
		_ = c.bridge.Initialize(ctx)
		return
	}
	err := c.bridgeBk.Execute(ctx, func(ctx context.Context) error {
		return c.bridge.Initialize(ctx)
	})
	if err != nil {
		log.LogWarnWithFields("session", "Bridge initialization unavailable", map[string]any{
			"role":  c.role,
			"error": err.Error(),
		})
	}
}

// maybeAutoLogin fires the in-app exchange when signed out inside a
// logged-in embedded session, unless suppressed by a recent logout.
func (c *Controller) maybeAutoLogin(ctx context.Context) {
	if c.State() != StateUnauthenticated || c.IsAuthenticated() {
		return
	}
	if c.now().Before(c.store.SuppressedUntil()) {
		return
	}
	if c.bridge.State() != bridge.StateReady ||
		!c.bridge.IsInEmbeddedBrowser() ||
		!c.bridge.IsProviderLoggedIn() {
		return
	}

	if err := c.Login(ctx); err != nil {
		log.LogDebugWithFields("session", "Auto-login failed", map[string]any{
			"role":  c.role,
			"error": err.Error(),
		})
	}
}

// sweep logs the user out silently once inactivity exceeds the policy
// timeout.
func (c *Controller) sweep(ctx context.Context) {
	if c.State() != StateAuthenticated {
		return
	}
	last := c.store.LastActivity()
	if last.IsZero() {
		return
	}
	if c.now().Sub(last) > c.policy.SessionTimeout {
		log.LogInfoWithFields("session", "Session expired", map[string]any{
			"role":     c.role,
			"inactive": c.now().Sub(last).String(),
		})
		c.Logout(ctx)
	}
}

func (c *Controller) setState(s ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// applyAuthEvent commits one element of the change stream. This is the
// only place a ClientSession is created.
func (c *Controller) applyAuthEvent(ev AuthEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.User == nil {
		c.session = nil
		if c.state != StateLoggingOut {
			c.state = StateUnauthenticated
		}
		return
	}

	now := c.now()
	var profile *identity.Profile
	if snap, ok := c.store.Snapshot(); ok && snap.UID == ev.User.UID {
		profile = snap.Profile
	}

	c.session = &ClientSession{
		UID:               ev.User.UID,
		Role:              c.role,
		Profile:           profile,
		SessionStart:      now,
		LastActivity:      now,
		LoginAttemptCount: c.attempts,
	}
	c.state = StateAuthenticated
	c.store.SetLastActivity(now)
}
