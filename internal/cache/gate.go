package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/kataster/internal/metrics"
	"github.com/sells-group/kataster/internal/model"
)

// Default TTLs by result confidence.
const (
	DefaultFullTTL    = time.Hour
	DefaultPartialTTL = 30 * time.Minute
)

// ResolveFunc produces the serialized payload for a cache miss.
type ResolveFunc func(ctx context.Context) ([]byte, model.Confidence, error)

// Gate consults the store before resolving and stores successful results.
// Concurrent misses on one key share a single resolution. Failures are never
// stored.
type Gate struct {
	store      Store
	fullTTL    time.Duration
	partialTTL time.Duration
	group      singleflight.Group
}

// NewGate creates a Gate. Non-positive TTLs fall back to the defaults.
func NewGate(store Store, fullTTL, partialTTL time.Duration) *Gate {
	if store == nil {
		store = Noop{}
	}
	if fullTTL <= 0 {
		fullTTL = DefaultFullTTL
	}
	if partialTTL <= 0 {
		partialTTL = DefaultPartialTTL
	}
	return &Gate{store: store, fullTTL: fullTTL, partialTTL: partialTTL}
}

// TTL returns the expiry used for results of confidence c.
func (g *Gate) TTL(c model.Confidence) time.Duration {
	if c == model.ConfidenceFull {
		return g.fullTTL
	}
	return g.partialTTL
}

// Store returns the underlying store.
func (g *Gate) Store() Store { return g.store }

// Do returns the stored bytes for key verbatim when present, otherwise runs
// resolve. hit reports whether the bytes came from the store. Concurrent
// misses share one resolution, which runs detached from any caller's
// cancellation so one departing caller cannot fail the others.
func (g *Gate) Do(ctx context.Context, kind model.Kind, key string, resolve ResolveFunc) (data []byte, hit bool, err error) {
	cached, ok, err := g.store.Get(ctx, key)
	if err != nil {
		metrics.CacheStoreErrorsTotal.Inc()
		zap.L().Warn("cache: read failed, resolving", zap.String("key", key), zap.Error(err))
	}
	if ok {
		metrics.CacheLookupsTotal.WithLabelValues(string(kind), "hit").Inc()
		return cached, true, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues(string(kind), "miss").Inc()

	v, err, _ := g.group.Do(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		payload, confidence, err := resolve(detached)
		if err != nil {
			return nil, err
		}
		if err := g.store.Set(detached, key, payload, g.TTL(confidence)); err != nil {
			metrics.CacheStoreErrorsTotal.Inc()
			zap.L().Warn("cache: write failed", zap.String("key", key), zap.Error(err))
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}
