// Package notify delivers the best-effort logout revocation notice to
// the auth backend. Two transports exist: a beacon-style fire-and-forget
// send for page unload, and a keep-alive request with a bounded wait for
// everything else. Logout never blocks on either.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// Request is the revocation notice payload.
type Request struct {
	ProviderUserID string `json:"providerUserId"`
	Message        string `json:"message"`
}

// Transport sends a revocation notice.
type Transport interface {
	Send(ctx context.Context, req Request) error
}

// Beacon is a fire-and-forget transport: Send returns immediately and
// the request completes (or dies) in the background. Used while the
// page is unloading, when nothing may block.
type Beacon struct {
	Endpoint string
	Client   *http.Client
}

// Send implements Transport. It never returns an error.
func (b *Beacon) Send(_ context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return nil
	}

	go func() {
		httpReq, err := http.NewRequest(http.MethodPost, b.Endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := b.client().Do(httpReq)
		if err != nil {
			log.LogDebugWithFields("notify", "Beacon send failed", map[string]any{"error": err.Error()})
			return
		}
		resp.Body.Close()
	}()
	return nil
}

func (b *Beacon) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

// KeepAlive posts the notice and waits at most Wait for it to finish.
// A slow backend loses the race and the notice is abandoned.
type KeepAlive struct {
	Endpoint string
	Client   *http.Client
	Wait     time.Duration
}

// DefaultWait bounds how long logout may spend on the notice.
const DefaultWait = 1500 * time.Millisecond

// Send implements Transport
func (k *KeepAlive) Send(ctx context.Context, req Request) error {
	wait := k.Wait
	if wait <= 0 {
		wait = DefaultWait
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling notice: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, k.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := k.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending notice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sending notice: status %d", resp.StatusCode)
	}
	return nil
}

func (k *KeepAlive) client() *http.Client {
	if k.Client != nil {
		return k.Client
	}
	return http.DefaultClient
}

// Notifier picks the transport per call and downgrades every failure to
// a log line.
type Notifier struct {
	Beacon    Transport
	KeepAlive Transport

	// Unloading reports whether the host page is tearing down. When
	// true the beacon transport is used.
	Unloading func() bool
}

// NewNotifier builds a notifier for the given revoke endpoint.
func NewNotifier(endpoint string, client *http.Client) *Notifier {
	return &Notifier{
		Beacon:    &Beacon{Endpoint: endpoint, Client: client},
		KeepAlive: &KeepAlive{Endpoint: endpoint, Client: client, Wait: DefaultWait},
	}
}

// Notify sends the notice best-effort. Failures are logged, never
// returned: the caller's logout proceeds regardless.
func (n *Notifier) Notify(ctx context.Context, providerUserID, message string) {
	if providerUserID == "" {
		return
	}

	req := Request{ProviderUserID: providerUserID, Message: message}

	transport := n.KeepAlive
	if n.Unloading != nil && n.Unloading() {
		transport = n.Beacon
	}

	if err := transport.Send(ctx, req); err != nil {
		log.LogWarnWithFields("notify", "Revocation notice failed", map[string]any{
			"error": err.Error(),
		})
	}
}
