// Package resolver orchestrates the adapters into identifier, coordinate and
// name-search lookups. It picks the endpoint and layer variants, chains
// spatial probes into identifier lookups and shapes the result payloads.
package resolver

import (
	"context"

	"github.com/sells-group/kataster/internal/adapter"
	"github.com/sells-group/kataster/internal/model"
)

// National PRG boundary service.
const (
	DefaultPRGURL     = "https://mapy.geoportal.gov.pl/wss/service/PZGIK/PRG/WFS/AdministrativeBoundaries"
	DefaultPRGVersion = "2.0.0"
)

// Registry resolves a county prefix to its WFS service.
type Registry interface {
	Lookup(prefix string) (model.ServiceDescriptor, bool)
}

// FeatureQuerier runs filtered feature-layer queries.
type FeatureQuerier interface {
	Match(ctx context.Context, req adapter.MatchRequest) adapter.Result
	Search(ctx context.Context, req adapter.MatchRequest) adapter.Result
}

// Prober runs spatial probes.
type Prober interface {
	Probe(ctx context.Context, req adapter.ProbeRequest) adapter.Result
}

// Config holds the national endpoints and regional TLS policy.
type Config struct {
	PRGURL     string
	PRGVersion string
	// InsecureRegionalTLS skips certificate checks against county services.
	InsecureRegionalTLS bool
}

// Resolver is safe for concurrent use.
type Resolver struct {
	registry Registry
	features FeatureQuerier
	probe    Prober
	cfg      Config
}

// New creates a Resolver.
func New(registry Registry, features FeatureQuerier, probe Prober, cfg Config) *Resolver {
	if cfg.PRGURL == "" {
		cfg.PRGURL = DefaultPRGURL
	}
	if cfg.PRGVersion == "" {
		cfg.PRGVersion = DefaultPRGVersion
	}
	return &Resolver{registry: registry, features: features, probe: probe, cfg: cfg}
}

// ByIdentifier resolves an identifier-keyed kind. The identifier must
// already be structurally valid.
func (r *Resolver) ByIdentifier(ctx context.Context, kind model.Kind, id string) (model.Resolution, error) {
	switch kind {
	case model.KindParcel:
		return r.property(ctx, parcels, id)
	case model.KindBuilding:
		return r.property(ctx, buildings, id)
	case model.KindRegion:
		return r.unit(ctx, regions, id)
	case model.KindCommune:
		return r.unit(ctx, communes, id)
	case model.KindCounty:
		return r.unit(ctx, counties, id)
	case model.KindVoivodeship:
		return r.unit(ctx, voivodeships, id)
	case model.KindRegionSearch:
		return r.SearchRegions(ctx, id)
	}
	return model.Resolution{}, model.Fail(model.ErrInvalidInput, "Unsupported lookup kind: "+string(kind), nil)
}

// ByPoint resolves a coordinate-keyed kind.
func (r *Resolver) ByPoint(ctx context.Context, kind model.Kind, pt model.Point) (model.Resolution, error) {
	switch kind {
	case model.KindParcelXY:
		return r.propertyAt(ctx, parcels, pt)
	case model.KindBuildingXY:
		return r.propertyAt(ctx, buildings, pt)
	case model.KindRegionXY:
		return r.regionAt(ctx, pt)
	case model.KindCommuneXY:
		return r.communeAt(ctx, pt)
	case model.KindCountyXY:
		return r.countyAt(ctx, pt)
	case model.KindVoivodeshipXY:
		return r.voivodeshipAt(ctx, pt)
	}
	return model.Resolution{}, model.Fail(model.ErrInvalidInput, "Unsupported lookup kind: "+string(kind), nil)
}

func coordDetails(pt model.Point) map[string]any {
	return map[string]any{"coordinates": pt.Coordinates()}
}
