// Package breaker implements a circuit breaker around unreliable
// dependencies. Each named breaker tracks consecutive failures; once a
// threshold is reached calls fail fast until a cooldown elapses, then a
// single trial call decides whether the circuit closes again.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// State of a circuit
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned without invoking the wrapped operation
// while the circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError wraps ErrCircuitOpen with the breaker name and the
// time the next trial call will be permitted.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry after %s", e.Name, e.RetryAfter.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// Stats is an observability snapshot of a breaker.
type Stats struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Threshold           int       `json:"threshold"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
	FastFailures        int64     `json:"fast_failures"`
}

// Breaker is a single-dependency circuit breaker. Construct one per
// dependency per role; instances are never shared across roles so one
// role's upstream trouble cannot starve the other.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	cooldownMult time.Duration // grows exponentially on half-open failures
	cooldownTill time.Time
	trialActive  bool
	fastFailures int64
	onState      func(name string, s State)
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateHook registers a callback invoked on every state transition.
// Used to publish breaker state to metrics.
func WithStateHook(hook func(name string, s State)) Option {
	return func(b *Breaker) { b.onState = hook }
}

// New creates a closed breaker with the given failure threshold and
// base cooldown.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		threshold:    threshold,
		cooldown:     cooldown,
		cooldownMult: cooldown,
		state:        StateClosed,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs op through the breaker. While the circuit is open it
// returns a CircuitOpenError without invoking op. In half-open state
// exactly one trial call is allowed; concurrent callers fail fast.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.cooldownTill) {
			b.fastFailures++
			return &CircuitOpenError{Name: b.name, RetryAfter: b.cooldownTill}
		}
		b.transition(StateHalfOpen)
		b.trialActive = true
		return nil
	case StateHalfOpen:
		if b.trialActive {
			b.fastFailures++
			return &CircuitOpenError{Name: b.name, RetryAfter: b.cooldownTill}
		}
		b.trialActive = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialActive = false
		if err != nil {
			// Trial failed: reopen with extended cooldown
			b.cooldownMult *= 2
			b.open()
			return
		}
		b.reset()
		return
	}

	if err == nil {
		b.reset()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.cooldownMult = b.cooldown
		b.open()
	}
}

func (b *Breaker) open() {
	b.cooldownTill = b.now().Add(b.cooldownMult)
	b.transition(StateOpen)
	log.LogWarnWithFields("breaker", "Circuit opened", map[string]any{
		"name":     b.name,
		"failures": b.failures,
		"until":    b.cooldownTill,
	})
}

func (b *Breaker) reset() {
	if b.state != StateClosed {
		log.LogInfoWithFields("breaker", "Circuit closed", map[string]any{"name": b.name})
	}
	b.failures = 0
	b.cooldownMult = b.cooldown
	b.cooldownTill = time.Time{}
	b.transition(StateClosed)
}

func (b *Breaker) transition(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onState != nil {
		b.onState(b.name, s)
	}
}

// Stats returns an observability snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		Threshold:           b.threshold,
		CooldownUntil:       b.cooldownTill,
		FastFailures:        b.fastFailures,
	}
}
