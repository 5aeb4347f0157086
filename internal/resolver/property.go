package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/adapter"
	"github.com/sells-group/kataster/internal/engine"
	"github.com/sells-group/kataster/internal/gml"
	"github.com/sells-group/kataster/internal/model"
)

// propertyKind describes how parcels and buildings are looked up.
type propertyKind struct {
	kind model.Kind
	// layer is the county WFS layer local name.
	layer string
	// field is the county layer's identifier attribute.
	field string
	// probeLayers are the national WMS layers probed for coordinates.
	probeLayers []string
	// probeKey is the probe attribute holding the identifier.
	probeKey string
	notFound string
	// prefix derives the county prefix from an identifier probed at a point.
	prefix func(id string) string
	// usable reports whether a probed identifier can be chained.
	usable func(id string) bool
	setID  func(r *model.PropertyResult, id string)
}

var parcels = propertyKind{
	kind:        model.KindParcel,
	layer:       "dzialki",
	field:       "ID_DZIALKI",
	probeLayers: []string{"dzialki", "budynki"},
	probeKey:    "Identyfikator działki",
	notFound:    "Parcel not found",
	prefix:      model.ParcelTerytPrefix,
	usable:      func(id string) bool { return strings.Contains(id, "_") },
	setID:       func(r *model.PropertyResult, id string) { r.ParcelID = id },
}

var buildings = propertyKind{
	kind:        model.KindBuilding,
	layer:       "budynki",
	field:       "ID_BUDYNKU",
	probeLayers: []string{"budynki"},
	probeKey:    "Identyfikator budynku",
	notFound:    "Building not found",
	prefix:      model.TerytPrefix,
	usable:      func(id string) bool { return id != "" },
	setID:       func(r *model.PropertyResult, id string) { r.BuildingID = id },
}

// property resolves a parcel or building by identifier. A missing registry
// entry fails with service-not-found before any upstream call.
func (r *Resolver) property(ctx context.Context, pk propertyKind, id string) (model.Resolution, error) {
	param := pk.kind.Param()
	prefix := model.TerytPrefix(id)
	desc, ok := r.registry.Lookup(prefix)
	if !ok {
		return model.Resolution{}, model.Fail(model.ErrServiceNotFound,
			"Service not found for TERYT: "+prefix,
			map[string]any{param: id, "teryt": prefix})
	}

	res := r.match(ctx, pk, desc, id)
	switch res.Status {
	case adapter.TransportError:
		return model.Resolution{}, model.Upstream("Request failed", res.Err, map[string]any{param: id, "teryt": prefix})
	case adapter.Empty:
		return model.Resolution{}, model.Fail(model.ErrNotFound, pk.notFound, map[string]any{param: id, "teryt": prefix})
	}

	f, _ := res.First()
	out := &model.PropertyResult{
		Service:    &desc,
		LayerName:  res.Variant,
		Attributes: f.Attributes,
		Geometry:   f.Geometry,
	}
	pk.setID(out, id)
	return model.Resolution{Payload: out, Confidence: confidenceOf(out)}, nil
}

func (r *Resolver) match(ctx context.Context, pk propertyKind, desc model.ServiceDescriptor, id string) adapter.Result {
	return r.features.Match(ctx, adapter.MatchRequest{
		URL:      desc.URL,
		Version:  desc.Version,
		Variants: adapter.Variants(pk.layer),
		Filter:   engine.Equal(pk.field, id),
		Dialect:  gml.SourceMapServer,
		Insecure: r.cfg.InsecureRegionalTLS,
	})
}

// propertyAt probes the national WMS, then chains the probed identifier into
// the county lookup. Missing services and exhausted variants degrade to the
// raw probe features instead of failing.
func (r *Resolver) propertyAt(ctx context.Context, pk propertyKind, pt model.Point) (model.Resolution, error) {
	probe := r.probe.Probe(ctx, adapter.ProbeRequest{Point: pt, Layers: pk.probeLayers})
	switch probe.Status {
	case adapter.TransportError:
		return model.Resolution{}, model.Upstream("Request failed", probe.Err, coordDetails(pt))
	case adapter.Empty:
		return model.Resolution{}, model.Fail(model.ErrNotFound, "No features found at coordinates", coordDetails(pt))
	}

	first, _ := probe.First()
	id := first.Attributes[pk.probeKey]
	degraded := &model.PropertyResult{
		Coordinates: pt.Coordinates(),
		Features:    rawFeatures(probe.Features),
		Source:      model.SourceKIEG,
	}
	if !pk.usable(id) {
		return model.Resolution{Payload: degraded, Confidence: model.ConfidencePartial}, nil
	}

	prefix := pk.prefix(id)
	degraded.Teryt = prefix
	desc, ok := r.registry.Lookup(prefix)
	if !ok {
		degraded.Note = model.NoteServiceUnavailable
		return model.Resolution{Payload: degraded, Confidence: model.ConfidencePartial}, nil
	}

	res := r.match(ctx, pk, desc, id)
	if res.Status != adapter.Found {
		if res.Status == adapter.TransportError {
			zap.L().Warn("resolver: county service unreachable, returning probe features",
				zap.String("kind", string(pk.kind)),
				zap.String("teryt", prefix),
				zap.Error(res.Err),
			)
		}
		degraded.Note = model.NoteGeometryUnavailable
		return model.Resolution{Payload: degraded, Confidence: model.ConfidencePartial}, nil
	}

	f, _ := res.First()
	out := &model.PropertyResult{
		Coordinates: pt.Coordinates(),
		Teryt:       prefix,
		Service:     &desc,
		Attributes:  f.Attributes,
		Geometry:    f.Geometry,
	}
	pk.setID(out, id)
	return model.Resolution{Payload: out, Confidence: confidenceOf(out)}, nil
}

func confidenceOf(r *model.PropertyResult) model.Confidence {
	if r.Geometry != "" {
		return model.ConfidenceFull
	}
	return model.ConfidencePartial
}

func rawFeatures(features []gml.Feature) []map[string]string {
	out := make([]map[string]string, 0, len(features))
	for _, f := range features {
		out = append(out, f.Attributes)
	}
	return out
}
