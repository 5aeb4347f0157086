package batchio

import (
	"encoding/json"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/model"
)

// Shapefile attribute columns. DBF field names are limited to 10 characters.
var shapeFields = []shp.Field{
	shp.StringField("ID", 80),
	shp.StringField("KIND", 16),
	shp.StringField("TERYT", 8),
	shp.StringField("LAYER", 32),
	shp.StringField("SERVICE", 254),
}

// ShapeWriter writes resolved parcel and building polygons to a shapefile.
// Records without a polygon geometry are counted and skipped.
type ShapeWriter struct {
	mu      sync.Mutex
	w       *shp.Writer
	written int
	skipped int
}

// NewShapeWriter creates the .shp/.shx/.dbf set at path.
func NewShapeWriter(path string) (*ShapeWriter, error) {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return nil, eris.Wrapf(err, "batchio: create shapefile %s", path)
	}
	if err := w.SetFields(shapeFields); err != nil {
		w.Close()
		return nil, eris.Wrap(err, "batchio: set shapefile fields")
	}
	return &ShapeWriter{w: w}, nil
}

func (s *ShapeWriter) Write(rec Record) error {
	if rec.Status != StatusOK || len(rec.Result) == 0 {
		s.skip()
		return nil
	}

	var p model.PropertyResult
	if err := json.Unmarshal(rec.Result, &p); err != nil {
		return eris.Wrapf(err, "batchio: decode result %s", rec.ID)
	}
	if p.Geometry == "" {
		s.skip()
		return nil
	}
	g, err := wkt.Unmarshal(p.Geometry)
	if err != nil {
		return eris.Wrapf(err, "batchio: parse geometry %s", rec.ID)
	}
	poly := toShapePolygon(g)
	if poly == nil {
		zap.L().Debug("batchio: skipping non-polygon geometry", zap.String("id", rec.ID))
		s.skip()
		return nil
	}

	service := ""
	if p.Service != nil {
		service = p.Service.URL
	}
	values := []string{rec.ID, string(rec.Kind), model.TerytPrefix(rec.ID), p.LayerName, service}

	s.mu.Lock()
	defer s.mu.Unlock()
	row := int(s.w.Write(poly))
	for i, v := range values {
		if err := s.w.WriteAttribute(row, i, v); err != nil {
			return eris.Wrapf(err, "batchio: write attribute %d of %s", i, rec.ID)
		}
	}
	s.written++
	return nil
}

func (s *ShapeWriter) skip() {
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
}

// Counts returns the number of written and skipped records.
func (s *ShapeWriter) Counts() (written, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.skipped
}

func (s *ShapeWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Close()
	return nil
}

// toShapePolygon flattens a Polygon or MultiPolygon into one multi-part
// shapefile polygon. Other geometry types return nil.
func toShapePolygon(g geom.T) *shp.Polygon {
	var rings [][]shp.Point
	addPolygon := func(p *geom.Polygon) {
		for i := 0; i < p.NumLinearRings(); i++ {
			ring := p.LinearRing(i)
			pts := make([]shp.Point, 0, ring.NumCoords())
			for j := 0; j < ring.NumCoords(); j++ {
				c := ring.Coord(j)
				pts = append(pts, shp.Point{X: c.X(), Y: c.Y()})
			}
			rings = append(rings, pts)
		}
	}

	switch t := g.(type) {
	case *geom.Polygon:
		addPolygon(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			addPolygon(t.Polygon(i))
		}
	default:
		return nil
	}
	if len(rings) == 0 {
		return nil
	}

	poly := shp.Polygon(*shp.NewPolyLine(rings))
	return &poly
}
