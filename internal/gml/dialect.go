package gml

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Property tags that hold geometry or envelopes rather than attributes.
var geometryTags = map[string]bool{
	"geometry":   true,
	"msgeometry": true,
	"shape":      true,
	"the_geom":   true,
	"geom":       true,
	"boundedby":  true,
}

func isGeometryTag(local string) bool {
	return geometryTags[strings.ToLower(local)]
}

// Structural tags whose whole subtree is ignored by the flat walk.
var flatSkipSubtree = map[string]bool{
	"boundedBy": true,
	"Box":       true,
	"Envelope":  true,
}

// Leaf names the flat walk never reports.
var flatDenyLeaf = map[string]bool{
	"FeatureCollection": true,
	"featureMember":     true,
	"boundedBy":         true,
	"Box":               true,
	"coordinates":       true,
}

type mapServer struct{}

func (mapServer) features(root *node, opts Options) []Feature {
	layer := opts.Layer
	if i := strings.LastIndex(layer, ":"); i >= 0 {
		layer = layer[i+1:]
	}
	if layer == "" {
		return nil
	}

	var out []Feature
	root.walk(func(n *node) bool {
		if n.local() != layer || n.leaf() {
			return true
		}
		f := Feature{Attributes: map[string]string{}}
		for _, c := range n.children {
			if isGeometryTag(c.local()) {
				if f.Geometry == "" {
					f.Geometry = propertyWKT(c)
				}
				continue
			}
			if c.leaf() {
				f.Attributes[c.local()] = c.value()
			}
		}
		if len(f.Attributes) > 0 {
			out = append(out, f)
		}
		return false
	})
	return out
}

type featureInfo struct{}

func (featureInfo) features(root *node, _ Options) []Feature {
	var out []Feature
	root.walk(func(n *node) bool {
		if n.local() != "featureMember" {
			return true
		}
		attrs := map[string]string{}
		for _, layer := range n.children {
			for _, a := range layer.children {
				name := repairMojibake(strings.TrimSpace(a.attr("Name")))
				text := a.value()
				if name == "" || text == "" || strings.HasPrefix(text, "<") || strings.HasPrefix(text, "http") {
					continue
				}
				attrs[name] = repairMojibake(text)
			}
		}
		if len(attrs) > 0 {
			out = append(out, Feature{Attributes: attrs})
		}
		return false
	})
	return out
}

type flat struct{}

func (flat) features(root *node, _ Options) []Feature {
	attrs := map[string]string{}
	root.walk(func(n *node) bool {
		if flatSkipSubtree[n.local()] {
			return false
		}
		if !n.leaf() {
			return true
		}
		if flatDenyLeaf[n.local()] || n.inGML() {
			return false
		}
		if v := n.value(); v != "" {
			if _, seen := attrs[n.local()]; !seen {
				attrs[n.local()] = v
			}
		}
		return false
	})
	if len(attrs) == 0 {
		return nil
	}
	return []Feature{{Attributes: attrs}}
}

type wfsCollection struct{}

func (wfsCollection) features(root *node, _ Options) []Feature {
	var out []Feature
	root.walk(func(n *node) bool {
		switch n.local() {
		case "member", "featureMember", "featureMembers":
		default:
			return true
		}
		for _, el := range n.children {
			if f, ok := wfsFeature(el); ok {
				out = append(out, f)
			}
		}
		return false
	})
	return out
}

func wfsFeature(el *node) (Feature, bool) {
	if el.leaf() || el.inGML() {
		return Feature{}, false
	}
	f := Feature{Attributes: map[string]string{}}
	for _, c := range el.children {
		switch {
		case strings.EqualFold(c.local(), "boundedBy"):
		case c.leaf():
			f.Attributes[c.local()] = c.value()
		case f.Geometry == "":
			f.Geometry = propertyWKT(c)
		}
	}
	return f, len(f.Attributes) > 0
}

// repairMojibake undoes UTF-8 text that was decoded as Windows-1252 upstream
// ("dziaÅ‚ki" becomes "działki"). Strings that do not round-trip to valid
// UTF-8 are returned unchanged.
func repairMojibake(s string) string {
	if isASCII(s) {
		return s
	}
	raw, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) || raw == s {
		return s
	}
	return raw
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
