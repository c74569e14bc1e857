package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// State of the initializer
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoadingSDK    State = "loading-sdk"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// InitTimeoutError reports that the SDK init handshake did not settle
// within the policy timeout.
type InitTimeoutError struct {
	Timeout time.Duration
}

func (e *InitTimeoutError) Error() string {
	return fmt.Sprintf("bridge init timed out after %s", e.Timeout)
}

// Policy bounds initialization behavior.
type Policy struct {
	InitTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultPolicy matches the production bridge: 5s handshake budget,
// three attempts, fixed 2s backoff between them.
func DefaultPolicy() Policy {
	return Policy{
		InitTimeout:  5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// Initializer owns one role's bridge lifecycle. All initialization
// state lives on the instance so two roles (or two tests) never share
// it. Concurrent Initialize calls collapse into one attempt.
type Initializer struct {
	appID  string
	loader Loader
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu    sync.RWMutex
	state State
	sdk   SDK
	err   error
}

// InitializerOption configures an Initializer
type InitializerOption func(*Initializer)

// WithPolicy overrides the default init policy
func WithPolicy(p Policy) InitializerOption {
	return func(i *Initializer) { i.policy = p }
}

// NewInitializer creates an uninitialized bridge for one role.
func NewInitializer(appID string, loader Loader, opts ...InitializerOption) *Initializer {
	i := &Initializer{
		appID:  appID,
		loader: loader,
		policy: DefaultPolicy(),
		state:  StateUninitialized,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current lifecycle state.
func (i *Initializer) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the failure recorded when the initializer gave up.
func (i *Initializer) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// Initialize loads and initializes the SDK. It is idempotent: when the
// bridge is already ready it returns immediately, and concurrent calls
// share a single attempt. A failed bridge stays failed until
// Initialize is called again explicitly.
func (i *Initializer) Initialize(ctx context.Context) error {
	i.mu.RLock()
	if i.state == StateReady {
		i.mu.RUnlock()
		return nil
	}
	i.mu.RUnlock()

	_, err, _ := i.group.Do("init", func() (any, error) {
		// Re-check inside the flight: a call that just finished may have
		// left us ready.
		i.mu.RLock()
		ready := i.state == StateReady
		i.mu.RUnlock()
		if ready {
			return nil, nil
		}
		return nil, i.initialize(ctx)
	})
	return err
}

func (i *Initializer) initialize(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= i.policy.MaxRetries; attempt++ {
		lastErr = i.attempt(ctx)
		if lastErr == nil {
			i.setReady()
			return nil
		}

		log.LogWarnWithFields("bridge", "Bridge init attempt failed", map[string]any{
			"attempt": attempt,
			"error":   lastErr.Error(),
		})

		if attempt < i.policy.MaxRetries {
			if err := i.sleep(ctx, i.policy.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	i.setFailed(lastErr)
	return lastErr
}

func (i *Initializer) attempt(ctx context.Context) error {
	i.setState(StateLoadingSDK)
	sdk, err := i.loader.Load(ctx)
	if err != nil {
		return err
	}

	i.setState(StateInitializing)

	// Race the SDK init against the policy timeout: whichever settles
	// first wins. The loser's effect still lands inside the SDK, but it
	// no longer steers control flow here.
	initDone := make(chan error, 1)
	initCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		initDone <- sdk.Init(initCtx, i.appID)
	}()

	timer := time.NewTimer(i.policy.InitTimeout)
	defer timer.Stop()

	select {
	case err := <-initDone:
		if err != nil {
			return err
		}
	case <-timer.C:
		return &InitTimeoutError{Timeout: i.policy.InitTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}

	i.mu.Lock()
	i.sdk = sdk
	i.mu.Unlock()
	return nil
}

func (i *Initializer) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

func (i *Initializer) setReady() {
	i.mu.Lock()
	i.state = StateReady
	i.err = nil
	i.mu.Unlock()
	log.LogInfoWithFields("bridge", "Bridge ready", map[string]any{"app_id": i.appID})
}

func (i *Initializer) setFailed(err error) {
	i.mu.Lock()
	i.state = StateFailed
	i.err = err
	i.mu.Unlock()
}

// ready returns the SDK when initialized, nil otherwise.
func (i *Initializer) ready() SDK {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != StateReady {
		return nil
	}
	return i.sdk
}

// IsInEmbeddedBrowser reports whether we run inside the embedded view.
// False until the bridge is ready.
func (i *Initializer) IsInEmbeddedBrowser() bool {
	sdk := i.ready()
	return sdk != nil && sdk.IsInClient()
}

// IsProviderLoggedIn reports whether a provider session is live.
// False until the bridge is ready.
func (i *Initializer) IsProviderLoggedIn() bool {
	sdk := i.ready()
	return sdk != nil && sdk.IsLoggedIn()
}

// AccessToken returns the in-app access token, empty until ready.
func (i *Initializer) AccessToken() string {
	sdk := i.ready()
	if sdk == nil {
		return ""
	}
	token, err := sdk.AccessToken()
	if err != nil {
		return ""
	}
	return token
}

// Profile returns the provider profile, nil until ready.
func (i *Initializer) Profile(ctx context.Context) *identity.Profile {
	sdk := i.ready()
	if sdk == nil {
		return nil
	}
	profile, err := sdk.Profile(ctx)
	if err != nil {
		return nil
	}
	return profile
}

// SDK exposes the raw handle for logout/close, nil until ready.
func (i *Initializer) SDK() SDK {
	return i.ready()
}
