package adapter

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/engine"
	"github.com/sells-group/kataster/internal/gml"
	"github.com/sells-group/kataster/internal/metrics"
)

// LayerOpener is the engine capability the feature adapter needs.
type LayerOpener interface {
	OpenLayer(ctx context.Context, src engine.LayerSource) (*engine.Layer, error)
}

// MatchRequest is a filtered query tried against each variant in order.
type MatchRequest struct {
	URL     string
	Version string
	// Variants are the candidate layer type names, tried in order.
	Variants []string
	Filter   engine.Filter
	Dialect  gml.Source
	Insecure bool
	// Limit caps Search results. Zero means gml.MaxFeatures.
	Limit int
}

// FeatureAdapter runs filtered WFS queries through the engine.
type FeatureAdapter struct {
	engine LayerOpener
}

// NewFeatureAdapter creates a FeatureAdapter over e.
func NewFeatureAdapter(e LayerOpener) *FeatureAdapter {
	return &FeatureAdapter{engine: e}
}

// Match returns at most one feature from the first variant that yields one.
func (a *FeatureAdapter) Match(ctx context.Context, req MatchRequest) Result {
	return a.run(ctx, req, 1)
}

// Search returns up to req.Limit features, in upstream order, from the first
// variant that yields any.
func (a *FeatureAdapter) Search(ctx context.Context, req MatchRequest) Result {
	limit := req.Limit
	if limit <= 0 {
		limit = gml.MaxFeatures
	}
	return a.run(ctx, req, limit)
}

// run stops at the first Found variant. Exhaustion is Empty unless every
// variant failed at the transport level.
func (a *FeatureAdapter) run(ctx context.Context, req MatchRequest, limit int) Result {
	failures := 0
	var lastErr error
	for _, variant := range req.Variants {
		res := a.attempt(ctx, req, variant, limit)
		metrics.VariantAttemptsTotal.WithLabelValues(variant, res.Status.String()).Inc()

		switch res.Status {
		case Found:
			return res
		case TransportError:
			failures++
			lastErr = res.Err
			zap.L().Debug("adapter: variant transport failure",
				zap.String("url", req.URL),
				zap.String("variant", variant),
				zap.Error(res.Err),
			)
		}
	}

	if failures > 0 && failures == len(req.Variants) {
		return Result{Status: TransportError, Err: lastErr}
	}
	return Result{Status: Empty}
}

// attempt opens one layer handle and always closes it before returning.
func (a *FeatureAdapter) attempt(ctx context.Context, req MatchRequest, variant string, limit int) Result {
	layer, err := a.engine.OpenLayer(ctx, engine.LayerSource{
		URL:         req.URL,
		TypeName:    variant,
		Version:     req.Version,
		Filter:      req.Filter,
		MaxFeatures: limit,
		Dialect:     req.Dialect,
		Insecure:    req.Insecure,
	})
	if err != nil {
		return Result{Status: TransportError, Variant: variant, Err: err}
	}
	defer layer.Close() //nolint:errcheck

	if !layer.Valid() {
		zap.L().Debug("adapter: invalid layer",
			zap.String("variant", variant),
			zap.String("reason", layer.Reason()),
		)
		return Result{Status: Empty, Variant: variant}
	}

	features := layer.Features()
	if len(features) == 0 {
		return Result{Status: Empty, Variant: variant}
	}
	if len(features) > limit {
		features = features[:limit]
	}
	out := make([]gml.Feature, len(features))
	copy(out, features)
	return Result{Status: Found, Features: out, Variant: variant}
}
