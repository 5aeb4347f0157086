package gml

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"
)

// propertyWKT converts the first GML geometry inside a feature property to
// WKT. Coordinates pass through unchanged; axis order and CRS are whatever
// the service sent. Returns "" when no supported geometry is present.
func propertyWKT(prop *node) string {
	var g geom.T
	var err error
	prop.walk(func(n *node) bool {
		if g != nil || err != nil {
			return false
		}
		if !n.inGML() {
			return true
		}
		g, err = toGeom(n)
		return g == nil && err == nil
	})
	if err != nil {
		zap.L().Debug("gml: skipping unconvertible geometry", zap.String("element", prop.local()), zap.Error(err))
		return ""
	}
	if g == nil {
		return ""
	}
	s, err := wkt.Marshal(g)
	if err != nil {
		zap.L().Debug("gml: encode WKT", zap.Error(err))
		return ""
	}
	return s
}

// toGeom returns nil, nil for elements that are not geometries.
func toGeom(n *node) (geom.T, error) {
	switch n.local() {
	case "Point":
		return point(n)
	case "LineString", "LinearRing", "Curve":
		coords, layout, err := ringCoords(n)
		if err != nil {
			return nil, err
		}
		return geom.NewLineStringFlat(layout, coords), nil
	case "Polygon", "PolygonPatch", "Surface":
		return polygon(n)
	case "MultiSurface", "MultiPolygon":
		return multiPolygon(n)
	case "MultiCurve", "MultiLineString":
		return multiLineString(n)
	case "MultiPoint":
		return multiPoint(n)
	}
	return nil, nil
}

func point(n *node) (*geom.Point, error) {
	coords, layout, err := ringCoords(n)
	if err != nil {
		return nil, err
	}
	if len(coords) != layout.Stride() {
		return nil, eris.Errorf("gml: point has %d ordinates", len(coords))
	}
	return geom.NewPointFlat(layout, coords), nil
}

func polygon(n *node) (*geom.Polygon, error) {
	if n.local() == "Surface" {
		var patch *node
		n.walk(func(c *node) bool {
			if patch != nil {
				return false
			}
			if c.local() == "PolygonPatch" {
				patch = c
				return false
			}
			return true
		})
		if patch == nil {
			return nil, eris.New("gml: surface without polygon patch")
		}
		n = patch
	}

	var poly *geom.Polygon
	for _, c := range n.children {
		switch c.local() {
		case "exterior", "outerBoundaryIs", "interior", "innerBoundaryIs":
		default:
			continue
		}
		ring := firstGML(c)
		if ring == nil {
			continue
		}
		coords, layout, err := ringCoords(ring)
		if err != nil {
			return nil, err
		}
		if poly == nil {
			poly = geom.NewPolygon(layout)
		}
		if err := poly.Push(geom.NewLinearRingFlat(layout, coords)); err != nil {
			return nil, eris.Wrap(err, "gml: push ring")
		}
	}
	if poly == nil {
		return nil, eris.New("gml: polygon without rings")
	}
	return poly, nil
}

func multiPolygon(n *node) (*geom.MultiPolygon, error) {
	var mp *geom.MultiPolygon
	err := eachMember(n, func(m *node) error {
		p, err := polygon(m)
		if err != nil {
			return err
		}
		if mp == nil {
			mp = geom.NewMultiPolygon(p.Layout())
		}
		return mp.Push(p)
	}, "Polygon", "Surface", "PolygonPatch")
	if err != nil {
		return nil, err
	}
	if mp == nil {
		return nil, eris.New("gml: empty multi-surface")
	}
	return mp, nil
}

func multiLineString(n *node) (*geom.MultiLineString, error) {
	var ml *geom.MultiLineString
	err := eachMember(n, func(m *node) error {
		coords, layout, err := ringCoords(m)
		if err != nil {
			return err
		}
		if ml == nil {
			ml = geom.NewMultiLineString(layout)
		}
		return ml.Push(geom.NewLineStringFlat(layout, coords))
	}, "LineString", "Curve")
	if err != nil {
		return nil, err
	}
	if ml == nil {
		return nil, eris.New("gml: empty multi-curve")
	}
	return ml, nil
}

func multiPoint(n *node) (*geom.MultiPoint, error) {
	var mp *geom.MultiPoint
	err := eachMember(n, func(m *node) error {
		p, err := point(m)
		if err != nil {
			return err
		}
		if mp == nil {
			mp = geom.NewMultiPoint(p.Layout())
		}
		return mp.Push(p)
	}, "Point")
	if err != nil {
		return nil, err
	}
	if mp == nil {
		return nil, eris.New("gml: empty multi-point")
	}
	return mp, nil
}

// eachMember calls fn for every descendant geometry of a multi-geometry whose
// local name is one of kinds, without descending into matched members.
func eachMember(n *node, fn func(*node) error, kinds ...string) error {
	var err error
	for _, c := range n.children {
		c.walk(func(m *node) bool {
			if err != nil {
				return false
			}
			for _, k := range kinds {
				if m.local() == k && m.inGML() {
					err = fn(m)
					return false
				}
			}
			return true
		})
	}
	return err
}

func firstGML(n *node) *node {
	for _, c := range n.children {
		if c.inGML() {
			return c
		}
	}
	return nil
}

// ringCoords reads the flat coordinate list of a point, curve or ring from
// posList, pos or coordinates children.
func ringCoords(n *node) ([]float64, geom.Layout, error) {
	dim := srsDimension(n)

	var nums []float64
	var err error
	n.walk(func(c *node) bool {
		if err != nil {
			return false
		}
		switch c.local() {
		case "posList":
			if d := srsDimension(c); d != 0 {
				dim = d
			}
			var v []float64
			v, err = parseNumbers(strings.Fields(c.value()))
			nums = append(nums, v...)
			return false
		case "pos":
			var v []float64
			v, err = parseNumbers(strings.Fields(c.value()))
			if len(v) == 3 && dim == 0 {
				dim = 3
			}
			nums = append(nums, v...)
			return false
		case "coordinates":
			var v []float64
			var d int
			v, d, err = parseCoordinates(c)
			if dim == 0 {
				dim = d
			}
			nums = append(nums, v...)
			return false
		}
		return true
	})
	if err != nil {
		return nil, geom.NoLayout, err
	}

	layout := geom.XY
	if dim == 3 {
		layout = geom.XYZ
	}
	if len(nums) == 0 || len(nums)%layout.Stride() != 0 {
		return nil, geom.NoLayout, eris.Errorf("gml: %d ordinates do not fit dimension %d", len(nums), layout.Stride())
	}
	return nums, layout, nil
}

func srsDimension(n *node) int {
	d, err := strconv.Atoi(n.attr("srsDimension"))
	if err != nil {
		return 0
	}
	return d
}

// parseCoordinates handles the GML2 <coordinates cs="," ts=" " decimal=".">
// form and returns the tuple dimension it saw.
func parseCoordinates(n *node) ([]float64, int, error) {
	cs, ts, dec := n.attr("cs"), n.attr("ts"), n.attr("decimal")
	if cs == "" {
		cs = ","
	}
	if dec == "" {
		dec = "."
	}

	var tuples []string
	if ts == "" || strings.TrimSpace(ts) == "" {
		tuples = strings.Fields(n.value())
	} else {
		tuples = strings.Split(n.value(), ts)
	}

	var out []float64
	dim := 0
	for _, t := range tuples {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts := strings.Split(t, cs)
		if dim == 0 {
			dim = len(parts)
		}
		if dec != "." {
			for i := range parts {
				parts[i] = strings.ReplaceAll(parts[i], dec, ".")
			}
		}
		v, err := parseNumbers(parts)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v...)
	}
	return out, dim, nil
}

func parseNumbers(fields []string) ([]float64, error) {
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "gml: parse ordinate %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}
