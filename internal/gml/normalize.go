// Package gml normalizes XML/GML responses from Polish geospatial services
// into flat attribute mappings. The caller names the response dialect; the
// content is never sniffed.
package gml

import (
	"go.uber.org/zap"
)

// Source names a response dialect.
type Source string

const (
	// SourceMapServer is map-server GML3 where feature elements are named
	// after the requested layer.
	SourceMapServer Source = "mapserver"
	// SourceFeatureInfo is WMS GetFeatureInfo text/xml with featureMember
	// elements holding Name-keyed attribute children.
	SourceFeatureInfo Source = "featureinfo"
	// SourceFlat collects every non-structural leaf of the document.
	SourceFlat Source = "flat"
	// SourceWFS is a WFS GetFeature feature collection.
	SourceWFS Source = "wfs"
)

// MaxFeatures caps multi-feature results when the caller does not.
const MaxFeatures = 10

// Feature is one normalized record. Geometry is WKT and empty when the
// dialect carries none or it could not be converted.
type Feature struct {
	Attributes map[string]string
	Geometry   string
}

// Options tunes a parse.
type Options struct {
	// Layer is the requested layer name. Required by SourceMapServer; a
	// namespace prefix ("ms:dzialki") is ignored.
	Layer string
	// Limit caps the number of returned features. Zero means MaxFeatures.
	Limit int
}

type dialect interface {
	features(root *node, opts Options) []Feature
}

var dialects = map[Source]dialect{
	SourceMapServer:   mapServer{},
	SourceFeatureInfo: featureInfo{},
	SourceFlat:        flat{},
	SourceWFS:         wfsCollection{},
}

// Parse normalizes data using the named dialect. It is total: malformed,
// empty or non-XML input yields nil, and no panic escapes.
func Parse(src Source, data []byte, opts Options) (out []Feature) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("gml: recovered from parser panic",
				zap.String("source", string(src)),
				zap.Any("panic", r),
			)
			out = nil
		}
	}()

	d, ok := dialects[src]
	if !ok || len(data) == 0 {
		return nil
	}

	root, err := parseTree(data)
	if err != nil {
		zap.L().Debug("gml: unparseable response",
			zap.String("source", string(src)),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return nil
	}

	features := d.features(root, opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = MaxFeatures
	}
	if len(features) > limit {
		features = features[:limit]
	}
	return features
}

// First returns the first feature, if any.
func First(src Source, data []byte, opts Options) (Feature, bool) {
	opts.Limit = 1
	features := Parse(src, data, opts)
	if len(features) == 0 {
		return Feature{}, false
	}
	return features[0], true
}

// Attributes returns the first feature's attribute mapping. The mapping is
// never nil; an empty mapping means not found.
func Attributes(src Source, data []byte, opts Options) map[string]string {
	f, ok := First(src, data, opts)
	if !ok {
		return map[string]string{}
	}
	return f.Attributes
}

// Exception reports whether data is an OGC exception report and returns its
// first exception text.
func Exception(data []byte) (string, bool) {
	root, err := parseTree(data)
	if err != nil {
		return "", false
	}
	switch root.local() {
	case "ExceptionReport", "ServiceExceptionReport":
	default:
		return "", false
	}

	msg := ""
	root.walk(func(n *node) bool {
		if msg != "" {
			return false
		}
		if n.leaf() && n.value() != "" {
			msg = n.value()
		}
		return true
	})
	return msg, true
}
