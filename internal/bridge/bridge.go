// Package bridge wraps the embedded-webview identity SDK (LIFF). The
// SDK itself is a vendor global in the host environment; everything
// here talks to it through the SDK capability interface so the
// initializer is testable without a real embedded browser.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/identity"
)

// SDK is the capability surface of the embedded bridge.
type SDK interface {
	// Init initializes the SDK for the given app id. Blocks until the
	// bridge handshake completes or ctx is done.
	Init(ctx context.Context, appID string) error

	// IsInClient reports whether we run inside the embedded browser.
	IsInClient() bool

	// IsLoggedIn reports whether the provider session is live.
	IsLoggedIn() bool

	// AccessToken returns the current provider access token.
	AccessToken() (string, error)

	// Profile fetches the provider profile through the bridge.
	Profile(ctx context.Context) (*identity.Profile, error)

	// Login starts an in-app provider login.
	Login() error

	// Logout ends the in-app provider session.
	Logout() error

	// CloseWindow closes the embedded view.
	CloseWindow() error
}

// Loader obtains an SDK instance. The production loader fetches the
// SDK asset over the network before handing out the handle.
type Loader interface {
	Load(ctx context.Context) (SDK, error)
}

// HTTPLoader fetches the SDK asset with a cache-busting parameter and
// then constructs the SDK handle via factory. Fetching up front keeps
// a dead CDN from masquerading as an init timeout.
type HTTPLoader struct {
	AssetURL string
	Client   *http.Client
	Factory  func() SDK
	now      func() time.Time
}

// NewHTTPLoader creates a loader for the given asset URL.
func NewHTTPLoader(assetURL string, client *http.Client, factory func() SDK) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLoader{AssetURL: assetURL, Client: client, Factory: factory, now: time.Now}
}

// Load implements Loader
func (l *HTTPLoader) Load(ctx context.Context) (SDK, error) {
	u := l.AssetURL + "?v=" + strconv.FormatInt(l.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building sdk asset request: %w", err)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sdk asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching sdk asset: status %d", resp.StatusCode)
	}
	return l.Factory(), nil
}
