// Package lookup is the entry point shared by the HTTP API and the CLI: it
// validates raw input, derives the cache key and runs the resolver behind the
// cache gate.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/cache"
	"github.com/sells-group/kataster/internal/metrics"
	"github.com/sells-group/kataster/internal/model"
)

// Resolver answers validated lookups.
type Resolver interface {
	ByIdentifier(ctx context.Context, kind model.Kind, id string) (model.Resolution, error)
	ByPoint(ctx context.Context, kind model.Kind, pt model.Point) (model.Resolution, error)
}

// Result is a serialized lookup answer.
type Result struct {
	Kind model.Kind
	Key  string
	// Body is the JSON payload, byte-identical to the cached entry on a hit.
	Body []byte
	Hit  bool
}

// Service is safe for concurrent use.
type Service struct {
	resolver Resolver
	gate     *cache.Gate
}

// New creates a Service.
func New(resolver Resolver, gate *cache.Gate) *Service {
	if gate == nil {
		gate = cache.NewGate(nil, 0, 0)
	}
	return &Service{resolver: resolver, gate: gate}
}

// ByIdentifier validates id and resolves an identifier-keyed kind. A region
// search whose query is shaped like a region identifier is served as a
// region lookup.
func (s *Service) ByIdentifier(ctx context.Context, kind model.Kind, id string) (Result, error) {
	if kind.IsCoordinate() {
		return Result{}, model.Fail(model.ErrInvalidInput, "Unsupported lookup kind: "+string(kind), nil)
	}
	if kind == model.KindRegionSearch {
		id = strings.TrimSpace(id)
		if model.LooksLikeRegionID(id) {
			kind = model.KindRegion
		}
	}
	if err := model.ValidateIdentifier(kind, id); err != nil {
		metrics.ResolutionsTotal.WithLabelValues(string(kind), "invalid").Inc()
		return Result{}, err
	}

	key := cache.IdentifierKey(kind, id)
	return s.run(ctx, kind, key, func(ctx context.Context) (model.Resolution, error) {
		return s.resolver.ByIdentifier(ctx, kind, id)
	})
}

// ByPoint validates raw coordinates and resolves a coordinate-keyed kind.
// epsg defaults to the national planar system.
func (s *Service) ByPoint(ctx context.Context, kind model.Kind, rawX, rawY, epsg string) (Result, error) {
	if !kind.IsCoordinate() {
		return Result{}, model.Fail(model.ErrInvalidInput, "Unsupported lookup kind: "+string(kind), nil)
	}
	pt, err := model.ParsePoint(rawX, rawY, epsg)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(string(kind), "invalid").Inc()
		return Result{}, err
	}

	key := cache.CoordinateKey(kind, pt)
	return s.run(ctx, kind, key, func(ctx context.Context) (model.Resolution, error) {
		return s.resolver.ByPoint(ctx, kind, pt)
	})
}

func (s *Service) run(ctx context.Context, kind model.Kind, key string, resolve func(context.Context) (model.Resolution, error)) (Result, error) {
	body, hit, err := s.gate.Do(ctx, kind, key, func(ctx context.Context) ([]byte, model.Confidence, error) {
		res, err := resolve(ctx)
		if err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(res.Payload)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "lookup: marshal %s", kind)
		}
		metrics.ResolutionsTotal.WithLabelValues(string(kind), res.Confidence.String()).Inc()
		return data, res.Confidence, nil
	})
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(string(kind), outcome(err)).Inc()
		if errors.Is(err, model.ErrUpstream) {
			zap.L().Warn("lookup: upstream failure", zap.String("key", key), zap.Error(err))
		}
		return Result{}, err
	}
	return Result{Kind: kind, Key: key, Body: body, Hit: hit}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid"
	case model.IsNotFound(err):
		return "not_found"
	case errors.Is(err, model.ErrUpstream):
		return "upstream_error"
	}
	return "error"
}
