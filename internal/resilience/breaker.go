// Package resilience guards upstream geospatial services with per-host
// circuit breakers and classifies transport failures. Nothing here retries.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the reset timeout passes.
	Open
	// HalfOpen lets one trial call through; concurrent calls are rejected
	// until it finishes.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling upstream while a host's breaker is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls every breaker in a Breakers set.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures that
	// opens the breaker. Default 5.
	FailureThreshold int
	// ResetTimeout is how long an open breaker waits before a trial call.
	// Default 30s.
	ResetTimeout time.Duration
	// OnStateChange is called with the breaker's host on every transition.
	OnStateChange func(host string, from, to State)
}

// BreakerConfigFrom builds a config from plain settings, keeping defaults for
// non-positive values.
func BreakerConfigFrom(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// Breaker tracks consecutive transport failures for one upstream host.
// Non-transport errors (exception reports, empty answers) count as success.
// Cancelled calls say nothing about the host and are not counted.
type Breaker struct {
	host string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool

	now func() time.Time
}

func newBreaker(host string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{host: host, cfg: cfg, now: time.Now}
}

// Call runs fn unless the breaker rejects it.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State reports the current state, treating an expired open breaker as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.trial {
			return NewTransportError(b.host, 0, ErrOpen)
		}
	default:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return NewTransportError(b.host, 0, ErrOpen)
		}
		b.moveTo(HalfOpen)
	}
	b.trial = true
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if errors.Is(err, context.Canceled) {
		return
	}
	if !IsTransport(err) {
		b.failures = 0
		if b.state != Closed {
			b.moveTo(Closed)
		}
		return
	}

	b.failures++
	switch {
	case b.state == HalfOpen:
		b.openedAt = b.now()
		b.moveTo(Open)
	case b.state == Closed && b.failures >= b.cfg.FailureThreshold:
		b.openedAt = b.now()
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.host, from, to)
	}
}

// Breakers hands out one Breaker per upstream host.
type Breakers struct {
	cfg BreakerConfig

	mu     sync.RWMutex
	byHost map[string]*Breaker
}

// NewBreakers creates an empty per-host breaker set.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, byHost: make(map[string]*Breaker)}
}

// For returns the breaker for host, creating it on first use.
func (bs *Breakers) For(host string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.byHost[host]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.byHost[host]; ok {
		return b
	}
	b = newBreaker(host, bs.cfg)
	bs.byHost[host] = b
	return b
}

// States snapshots every known breaker.
func (bs *Breakers) States() map[string]State {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make(map[string]State, len(bs.byHost))
	for host, b := range bs.byHost {
		out[host] = b.State()
	}
	return out
}
