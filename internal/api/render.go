package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/lookup"
	"github.com/sells-group/kataster/internal/model"
)

type format string

const (
	formatJSON    format = "json"
	formatCSV     format = "csv"
	formatGeoJSON format = "geojson"
)

// parseFormat accepts csv and geojson only for parcel and building payloads.
func parseFormat(kind model.Kind, raw string) (format, error) {
	switch format(raw) {
	case "", formatJSON:
		return formatJSON, nil
	case formatCSV, formatGeoJSON:
		if isProperty(kind) {
			return format(raw), nil
		}
	}
	expected := "json"
	if isProperty(kind) {
		expected = "json, csv, geojson"
	}
	return "", model.Fail(model.ErrInvalidInput, "Invalid format. Expected one of: "+expected, map[string]any{"format": raw})
}

func isProperty(kind model.Kind) bool {
	switch kind {
	case model.KindParcel, model.KindBuilding, model.KindParcelXY, model.KindBuildingXY:
		return true
	}
	return false
}

func writeResult(w http.ResponseWriter, res lookup.Result, f format) {
	if res.Hit {
		w.Header().Set(cacheHeader, "hit")
	} else {
		w.Header().Set(cacheHeader, "miss")
	}

	if f == formatJSON {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Body)
		return
	}

	var p model.PropertyResult
	if err := json.Unmarshal(res.Body, &p); err != nil {
		writeLookupError(w, eris.Wrap(err, "api: decode property payload"))
		return
	}

	var (
		out         []byte
		err         error
		contentType string
	)
	switch f {
	case formatCSV:
		out, err = propertyCSV(&p)
		contentType = "text/csv; charset=utf-8"
	case formatGeoJSON:
		out, err = propertyGeoJSON(&p)
		contentType = "application/geo+json"
	}
	if err != nil {
		writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// statusOf maps the lookup error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeLookupError writes {"error": message} plus the failure's context.
func writeLookupError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	body := map[string]any{}
	msg := "Error: " + err.Error()
	if le, ok := model.AsLookupError(err); ok {
		for k, v := range le.Details {
			body[k] = v
		}
		msg = le.Message
	}
	body["error"] = msg

	if status >= http.StatusInternalServerError {
		zap.L().Error("api: lookup failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// propertyCSV renders the resolved attributes as one row, or the raw probe
// features as one row each when nothing was resolved. Columns are sorted.
func propertyCSV(p *model.PropertyResult) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if len(p.Features) > 0 && len(p.Attributes) == 0 {
		cols := unionKeys(p.Features)
		if err := cw.Write(cols); err != nil {
			return nil, eris.Wrap(err, "api: write csv header")
		}
		for _, f := range p.Features {
			row := make([]string, len(cols))
			for i, c := range cols {
				row[i] = f[c]
			}
			if err := cw.Write(row); err != nil {
				return nil, eris.Wrap(err, "api: write csv row")
			}
		}
	} else {
		cols := unionKeys([]map[string]string{p.Attributes})
		header := append([]string{"id"}, cols...)
		header = append(header, "geometry")
		row := []string{p.ID()}
		for _, c := range cols {
			row = append(row, p.Attributes[c])
		}
		row = append(row, p.Geometry)
		if err := cw.Write(header); err != nil {
			return nil, eris.Wrap(err, "api: write csv header")
		}
		if err := cw.Write(row); err != nil {
			return nil, eris.Wrap(err, "api: write csv row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, eris.Wrap(err, "api: flush csv")
	}
	return buf.Bytes(), nil
}

// propertyGeoJSON renders a Feature from the WKT geometry, or a
// FeatureCollection of geometry-less probe features when nothing was resolved.
func propertyGeoJSON(p *model.PropertyResult) ([]byte, error) {
	if len(p.Features) > 0 && len(p.Attributes) == 0 {
		fc := &geojson.FeatureCollection{}
		for _, attrs := range p.Features {
			f, err := geoFeature("", attrs, "")
			if err != nil {
				return nil, err
			}
			fc.Features = append(fc.Features, f)
		}
		data, err := json.Marshal(fc)
		return data, eris.Wrap(err, "api: encode feature collection")
	}

	f, err := geoFeature(p.ID(), p.Attributes, p.Geometry)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(f)
	return data, eris.Wrap(err, "api: encode feature")
}

func geoFeature(id string, attrs map[string]string, geometry string) (*geojson.Feature, error) {
	props := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		props[k] = v
	}
	f := &geojson.Feature{ID: id, Properties: props}
	if geometry != "" {
		g, err := wkt.Unmarshal(geometry)
		if err != nil {
			return nil, eris.Wrap(err, "api: parse wkt geometry")
		}
		f.Geometry = g
	}
	return f, nil
}

func unionKeys(rows []map[string]string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
