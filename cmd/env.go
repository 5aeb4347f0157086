package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/adapter"
	"github.com/sells-group/kataster/internal/cache"
	"github.com/sells-group/kataster/internal/config"
	"github.com/sells-group/kataster/internal/engine"
	"github.com/sells-group/kataster/internal/lookup"
	"github.com/sells-group/kataster/internal/registry"
	"github.com/sells-group/kataster/internal/resilience"
	"github.com/sells-group/kataster/internal/resolver"
)

// lookupEnv holds everything the serve, lookup and batch commands share.
type lookupEnv struct {
	Registry *registry.Services
	Engine   *engine.Engine
	Store    cache.Store
	Lookups  *lookup.Service
}

// Close releases the cache backend.
func (le *lookupEnv) Close() {
	if le.Store != nil {
		if err := le.Store.Close(); err != nil {
			zap.L().Warn("close cache store", zap.Error(err))
		}
	}
}

// initLookups loads the registry, opens the cache and wires the resolution
// chain. Callers should defer env.Close().
func initLookups(ctx context.Context, c *config.Config) (*lookupEnv, error) {
	reg, err := registry.LoadFile(c.Registry.Path)
	if err != nil {
		return nil, eris.Wrap(err, "init: load registry")
	}

	eng := newEngine(c)

	features := adapter.NewFeatureAdapter(eng)
	probe := adapter.NewProbeAdapter(eng, adapter.ProbeConfig{
		URL:       c.Upstream.ProbeURL,
		HalfWidth: c.Upstream.ProbeHalfWidth,
		Pixels:    c.Upstream.ProbePixels,
	})
	res := resolver.New(reg, features, probe, resolver.Config{
		PRGURL:              c.Upstream.PRGURL,
		PRGVersion:          c.Upstream.PRGVersion,
		InsecureRegionalTLS: c.Upstream.InsecureRegionalTLS,
	})

	store, err := cache.Open(ctx, c.CacheSettings())
	if err != nil {
		return nil, eris.Wrap(err, "init: open cache")
	}
	gate := cache.NewGate(store, c.FullTTL(), c.PartialTTL())

	zap.L().Info("lookups ready",
		zap.Int("services", reg.Len()),
		zap.String("cache", c.Cache.Backend),
	)

	return &lookupEnv{
		Registry: reg,
		Engine:   eng,
		Store:    store,
		Lookups:  lookup.New(res, gate),
	}, nil
}

func newEngine(c *config.Config) *engine.Engine {
	return engine.New(engine.Config{
		Timeout:   time.Duration(c.Upstream.TimeoutSecs) * time.Second,
		UserAgent: c.Upstream.UserAgent,
		RateLimit: c.Upstream.RateLimitRPS,
		RateBurst: c.Upstream.RateLimitBurst,
		Breaker:   resilience.BreakerConfigFrom(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
	})
}
