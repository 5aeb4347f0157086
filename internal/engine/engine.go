// Package engine is the shared feature-layer engine used by every adapter.
// It is initialized once, lazily, and hands out per-request layer handles
// that must be closed by the caller.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/kataster/internal/metrics"
	"github.com/sells-group/kataster/internal/resilience"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "kataster/1.0"
	maxBodyBytes     = 32 << 20
)

// Config controls the engine's outbound HTTP policy.
type Config struct {
	// Timeout bounds every upstream call. Default 30s.
	Timeout time.Duration
	// UserAgent is sent on every request.
	UserAgent string
	// RateLimit is the per-host request rate; zero disables limiting.
	RateLimit float64
	// RateBurst is the per-host burst. Default 1 when RateLimit is set.
	RateBurst int
	// Breaker configures the per-host circuit breakers.
	Breaker resilience.BreakerConfig
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHTTPClients replaces the verifying and non-verifying HTTP clients.
func WithHTTPClients(strict, insecure *http.Client) Option {
	return func(e *Engine) {
		e.strictOverride = strict
		e.insecureOverride = insecure
	}
}

// Engine is safe for concurrent use once constructed.
type Engine struct {
	cfg Config

	ready atomic.Bool
	mu    sync.Mutex
	inits atomic.Int64
	open  atomic.Int64

	strict   *http.Client
	insecure *http.Client
	breakers *resilience.Breakers

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	strictOverride   *http.Client
	insecureOverride *http.Client
}

// New constructs an engine. Nothing is initialized until first use.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ensure initializes the engine exactly once. The fast path is a single
// atomic load.
func (e *Engine) ensure() {
	if e.ready.Load() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready.Load() {
		return
	}

	e.strict = e.strictOverride
	if e.strict == nil {
		e.strict = &http.Client{Timeout: e.cfg.Timeout}
	}
	e.insecure = e.insecureOverride
	if e.insecure == nil {
		e.insecure = &http.Client{
			Timeout: e.cfg.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in per service
			},
		}
	}

	onChange := e.cfg.Breaker.OnStateChange
	bcfg := e.cfg.Breaker
	bcfg.OnStateChange = func(host string, from, to resilience.State) {
		metrics.BreakerTransitionsTotal.WithLabelValues(host, to.String()).Inc()
		zap.L().Warn("engine: circuit breaker transition",
			zap.String("host", host),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onChange != nil {
			onChange(host, from, to)
		}
	}
	e.breakers = resilience.NewBreakers(bcfg)
	e.limiters = make(map[string]*rate.Limiter)

	e.inits.Add(1)
	e.ready.Store(true)
	zap.L().Debug("engine: initialized", zap.Duration("timeout", e.cfg.Timeout))
}

// Initializations reports how many times the engine has been initialized.
// It is 0 before first use and 1 afterwards.
func (e *Engine) Initializations() int64 { return e.inits.Load() }

// OpenHandles reports the number of layer handles not yet closed.
func (e *Engine) OpenHandles() int64 { return e.open.Load() }

// BreakerStates snapshots the per-host circuit breaker states.
func (e *Engine) BreakerStates() map[string]resilience.State {
	e.ensure()
	return e.breakers.States()
}

func (e *Engine) limiter(host string) *rate.Limiter {
	if e.cfg.RateLimit <= 0 {
		return nil
	}
	e.limMu.Lock()
	defer e.limMu.Unlock()
	l, ok := e.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateBurst)
		e.limiters[host] = l
	}
	return l
}

// RejectedError is a well-formed refusal from upstream (4xx status or OGC
// exception report). It is not a transport failure.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return "engine: upstream rejected request (status " + strconv.Itoa(e.StatusCode) + "): " + e.Message
}

// Fetch GETs rawURL under the engine's timeout, rate limit and circuit
// breaker. Caller cancellation is not propagated upstream. Transport failures come back as *resilience.TransportError;
// 4xx answers as *RejectedError.
func (e *Engine) Fetch(ctx context.Context, rawURL string, insecure bool) ([]byte, error) {
	e.ensure()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: parse url %q", rawURL)
	}
	host := u.Host

	client := e.strict
	if insecure {
		client = e.insecure
	}

	// Upstream calls run to completion or timeout regardless of the caller.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeout)
	defer cancel()

	if l := e.limiter(host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, resilience.NewTransportError(host, 0, eris.Wrap(err, "engine: rate limit wait"))
		}
	}

	start := time.Now()
	body, err := resilience.Call(ctx, e.breakers.For(host), func(ctx context.Context) ([]byte, error) {
		return e.do(ctx, client, host, u.String())
	})
	metrics.UpstreamDurationMs.WithLabelValues(host).Observe(float64(time.Since(start).Milliseconds()))

	outcome := "ok"
	var rejected *RejectedError
	switch {
	case err == nil:
	case errors.As(err, &rejected):
		outcome = "rejected"
	default:
		outcome = "transport_error"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(host, outcome).Inc()
	return body, err
}

func (e *Engine) do(ctx context.Context, client *http.Client, host, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "engine: build request")
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, resilience.NewTransportError(host, 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransportError(host, resp.StatusCode, eris.Wrap(err, "engine: read body"))
	}

	switch {
	case resilience.IsTransportStatus(resp.StatusCode):
		return nil, resilience.NewTransportError(host, resp.StatusCode, eris.New(http.StatusText(resp.StatusCode)))
	case resp.StatusCode >= 400:
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return body, nil
}
