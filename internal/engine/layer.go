package engine

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/gml"
	"github.com/sells-group/kataster/internal/metrics"
	"github.com/sells-group/kataster/internal/resilience"
)

// DefaultVersion is used when a service declares "auto" or nothing.
const DefaultVersion = "2.0.0"

// LayerSource describes one WFS feature layer query.
type LayerSource struct {
	URL      string
	TypeName string
	// Version is the WFS version; "" and "auto" mean DefaultVersion.
	Version string
	Filter  Filter
	// MaxFeatures caps the upstream result. Zero means gml.MaxFeatures.
	MaxFeatures int
	// Dialect selects the response parser. Zero value means gml.SourceWFS.
	Dialect gml.Source
	// Insecure skips TLS certificate verification.
	Insecure bool
}

// Layer is a per-request feature-layer handle. Close must be called on every
// path once the layer has been opened.
type Layer struct {
	engine   *Engine
	source   LayerSource
	valid    bool
	reason   string
	features []gml.Feature
	closed   atomic.Bool
}

// OpenLayer queries the layer and returns a handle over the parsed features.
// A layer that upstream rejects (unknown type name, exception report, 4xx) is
// returned as an invalid handle, not an error. Transport failures return an
// error and no handle.
func (e *Engine) OpenLayer(ctx context.Context, src LayerSource) (*Layer, error) {
	e.ensure()

	target, err := GetFeatureURL(src)
	if err != nil {
		return nil, err
	}

	l := &Layer{engine: e, source: src}
	e.open.Add(1)
	metrics.OpenLayers.Inc()

	body, err := e.Fetch(ctx, target, src.Insecure)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) || !resilience.IsTransport(err) {
			l.reason = err.Error()
			return l, nil
		}
		_ = l.Close()
		return nil, err
	}

	if msg, ok := gml.Exception(body); ok {
		l.reason = "exception report: " + msg
		zap.L().Debug("engine: layer rejected",
			zap.String("type_name", src.TypeName),
			zap.String("reason", msg),
		)
		return l, nil
	}

	dialect := src.Dialect
	if dialect == "" {
		dialect = gml.SourceWFS
	}
	l.valid = true
	opts := gml.Options{Layer: src.TypeName, Limit: src.limit()}
	l.features = gml.Parse(dialect, body, opts)
	if len(l.features) == 0 && dialect == gml.SourceMapServer {
		// Some map servers wrap features in <layer>_layer/<layer>_feature
		// elements that never match the type name.
		l.features = gml.Parse(gml.SourceFlat, body, opts)
		if len(l.features) > 0 {
			zap.L().Debug("engine: mapserver layer parsed flat", zap.String("type_name", src.TypeName))
		}
	}
	return l, nil
}

// Valid reports whether upstream accepted the layer query.
func (l *Layer) Valid() bool { return l.valid }

// Reason explains why an invalid layer was rejected.
func (l *Layer) Reason() string { return l.reason }

// Features returns the parsed features in upstream order.
func (l *Layer) Features() []gml.Feature { return l.features }

// Source returns the query the layer was opened with.
func (l *Layer) Source() LayerSource { return l.source }

// Close releases the handle. It is safe to call more than once.
func (l *Layer) Close() error {
	if l == nil || !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.engine.open.Add(-1)
	metrics.OpenLayers.Dec()
	l.features = nil
	return nil
}

func (s LayerSource) limit() int {
	if s.MaxFeatures > 0 {
		return s.MaxFeatures
	}
	return gml.MaxFeatures
}

// NormalizeVersion maps "auto" and "" to DefaultVersion.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "auto") {
		return DefaultVersion
	}
	return v
}

var getFeatureKeys = []string{"SERVICE", "REQUEST", "VERSION", "TYPENAMES", "TYPENAME", "FILTER", "COUNT", "MAXFEATURES"}

// GetFeatureURL builds the WFS GetFeature request for src. Query parameters
// already present on the service URL are kept unless they collide with the
// GetFeature parameters.
func GetFeatureURL(src LayerSource) (string, error) {
	if src.URL == "" || src.TypeName == "" {
		return "", eris.New("engine: layer source needs url and type name")
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", eris.Wrapf(err, "engine: parse service url %q", src.URL)
	}

	q := u.Query()
	for key := range q {
		for _, k := range getFeatureKeys {
			if strings.EqualFold(key, k) {
				q.Del(key)
			}
		}
	}

	version := NormalizeVersion(src.Version)
	q.Set("SERVICE", "WFS")
	q.Set("REQUEST", "GetFeature")
	q.Set("VERSION", version)

	limit := strconv.Itoa(src.limit())
	if strings.HasPrefix(version, "2.") {
		q.Set("TYPENAMES", src.TypeName)
		q.Set("COUNT", limit)
	} else {
		q.Set("TYPENAME", src.TypeName)
		q.Set("MAXFEATURES", limit)
	}
	if f := src.Filter.Encode(version); f != "" {
		q.Set("FILTER", f)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}
