// Package adapter queries upstream services through the engine and reports
// each attempt as an explicit Found, Empty or TransportError outcome.
package adapter

import (
	"github.com/sells-group/kataster/internal/gml"
)

// Status is the outcome of an adapter call.
type Status int

const (
	// Empty means upstream answered (or could not be parsed) with no feature.
	Empty Status = iota
	// Found means at least one feature was returned.
	Found
	// TransportError means upstream could not be reached or timed out.
	TransportError
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case TransportError:
		return "transport_error"
	default:
		return "empty"
	}
}

// Result is an adapter outcome. Err is set only for TransportError.
type Result struct {
	Status   Status
	Features []gml.Feature
	// Variant is the layer type name that produced the features.
	Variant string
	Err     error
}

// First returns the first feature of a Found result.
func (r Result) First() (gml.Feature, bool) {
	if r.Status != Found || len(r.Features) == 0 {
		return gml.Feature{}, false
	}
	return r.Features[0], true
}

// RegionalNamespaces is the order in which county services are tried. Some
// counties expose ms:, others ewns:, others wfs:.
var RegionalNamespaces = []string{"ms:", "ewns:", "wfs:"}

// Variants prefixes layer with every regional namespace in order.
func Variants(layer string) []string {
	out := make([]string, 0, len(RegionalNamespaces))
	for _, ns := range RegionalNamespaces {
		out = append(out, ns+layer)
	}
	return out
}
