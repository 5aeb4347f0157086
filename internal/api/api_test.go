package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kataster/internal/cache"
	"github.com/sells-group/kataster/internal/lookup"
	"github.com/sells-group/kataster/internal/model"
	"github.com/sells-group/kataster/internal/resilience"
)

type lookupCall struct {
	kind       model.Kind
	id         string
	x, y, epsg string
}

type fakeLookups struct {
	calls []lookupCall
	res   lookup.Result
	err   error
}

func (f *fakeLookups) ByIdentifier(_ context.Context, kind model.Kind, id string) (lookup.Result, error) {
	f.calls = append(f.calls, lookupCall{kind: kind, id: id})
	return f.res, f.err
}

func (f *fakeLookups) ByPoint(_ context.Context, kind model.Kind, x, y, epsg string) (lookup.Result, error) {
	f.calls = append(f.calls, lookupCall{kind: kind, x: x, y: y, epsg: epsg})
	return f.res, f.err
}

type fakeRegistry map[string]model.ServiceDescriptor

func (f fakeRegistry) Lookup(prefix string) (model.ServiceDescriptor, bool) {
	d, ok := f[prefix]
	return d, ok
}

func (f fakeRegistry) Len() int { return len(f) }

type fakeEngine struct{}

func (fakeEngine) OpenHandles() int64 { return 2 }

func (fakeEngine) BreakerStates() map[string]resilience.State {
	return map[string]resilience.State{"wms.example.pl": resilience.Open}
}

var registry = fakeRegistry{"1206": {Teryt: "1206", URL: "https://wms.powiat.krakow.pl/iip/ows", Organization: "Starosta Krakowski"}}

const parcelBody = `{"parcel_id":"120601_1.0001.12","service":{"organization":"x","teryt":"1206","url":"u"},` +
	`"layer_name":"ms:dzialki","attributes":{"ID_DZIALKI":"120601_1.0001.12","NUMER":"12"},` +
	`"geometry":"POLYGON ((0 0, 10 0, 10 10, 0 0))"}`

func serve(t *testing.T, fl *fakeLookups, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(fl, registry, fakeEngine{}, Config{})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	return w
}

func TestParcel_JSONIsVerbatim(t *testing.T) {
	fl := &fakeLookups{res: lookup.Result{Kind: model.KindParcel, Body: []byte(parcelBody), Hit: true}}
	w := serve(t, fl, "/search-parcel/?parcel_id=120601_1.0001.12")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, parcelBody, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "hit", w.Header().Get("X-Cache"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.Len(t, fl.calls, 1)
	assert.Equal(t, model.KindParcel, fl.calls[0].kind)
	assert.Equal(t, "120601_1.0001.12", fl.calls[0].id)
}

func TestRequestIDIsPropagated(t *testing.T) {
	fl := &fakeLookups{res: lookup.Result{Body: []byte(`{}`)}}
	w := serve(t, fl, "/county/?county_id=1263", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "miss", w.Header().Get("X-Cache"))
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		target string
		want   lookupCall
	}{
		{"/search-building/?building_id=1206010101.1.2", lookupCall{kind: model.KindBuilding, id: "1206010101.1.2"}},
		{"/region/?region_id=126301_1.0001", lookupCall{kind: model.KindRegion, id: "126301_1.0001"}},
		{"/region/search/?query=Bie%C5%BCan%C3%B3w", lookupCall{kind: model.KindRegionSearch, id: "Bieżanów"}},
		{"/commune/?commune_id=126301_1", lookupCall{kind: model.KindCommune, id: "126301_1"}},
		{"/county/?county_id=1263", lookupCall{kind: model.KindCounty, id: "1263"}},
		{"/voivodeship/?voivodeship_id=12", lookupCall{kind: model.KindVoivodeship, id: "12"}},
		{"/parcel-by-xy/?x=500000&y=250000", lookupCall{kind: model.KindParcelXY, x: "500000", y: "250000"}},
		{"/building-by-xy/?x=1&y=2&epsg=4326", lookupCall{kind: model.KindBuildingXY, x: "1", y: "2", epsg: "4326"}},
		{"/region-by-xy/?x=1&y=2", lookupCall{kind: model.KindRegionXY, x: "1", y: "2"}},
		{"/commune-by-xy/?x=1&y=2", lookupCall{kind: model.KindCommuneXY, x: "1", y: "2"}},
		{"/county-by-xy/?x=1&y=2", lookupCall{kind: model.KindCountyXY, x: "1", y: "2"}},
		{"/voivodeship-by-xy/?x=1&y=2", lookupCall{kind: model.KindVoivodeshipXY, x: "1", y: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			fl := &fakeLookups{res: lookup.Result{Body: []byte(`{}`)}}
			w := serve(t, fl, tt.target)
			require.Equal(t, http.StatusOK, w.Code)
			require.Len(t, fl.calls, 1)
			assert.Equal(t, tt.want, fl.calls[0])
		})
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   map[string]any
	}{
		{
			name:   "invalid",
			err:    model.Fail(model.ErrInvalidInput, "Invalid parcel_id format", map[string]any{"parcel_id": "bad"}),
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "Invalid parcel_id format", "parcel_id": "bad"},
		},
		{
			name:   "service not found",
			err:    model.Fail(model.ErrServiceNotFound, "Service not found for TERYT: 9999", map[string]any{"teryt": "9999"}),
			status: http.StatusNotFound,
			body:   map[string]any{"error": "Service not found for TERYT: 9999", "teryt": "9999"},
		},
		{
			name:   "not found",
			err:    model.Fail(model.ErrNotFound, "Parcel not found", nil),
			status: http.StatusNotFound,
			body:   map[string]any{"error": "Parcel not found"},
		},
		{
			name:   "upstream",
			err:    model.Upstream("Request failed", errors.New("dial tcp: i/o timeout"), nil),
			status: http.StatusBadGateway,
			body:   map[string]any{"error": "Request failed"},
		},
		{
			name:   "unclassified",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			body:   map[string]any{"error": "Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &fakeLookups{err: tt.err}, "/search-parcel/?parcel_id=x")
			assert.Equal(t, tt.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestFormat_CSV(t *testing.T) {
	fl := &fakeLookups{res: lookup.Result{Kind: model.KindParcel, Body: []byte(parcelBody)}}
	w := serve(t, fl, "/search-parcel/?parcel_id=120601_1.0001.12&format=csv")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,ID_DZIALKI,NUMER,geometry", lines[0])
	assert.Equal(t, `120601_1.0001.12,120601_1.0001.12,12,"POLYGON ((0 0, 10 0, 10 10, 0 0))"`, lines[1])
}

func TestFormat_CSVDegradedFeatures(t *testing.T) {
	body := `{"coordinates":{"x":1,"y":2,"epsg":"2180"},"features":[{"b":"2","a":"1"},{"c":"3"}],"source":"KrajowaIntegracjaEwidencjiGruntow"}`
	fl := &fakeLookups{res: lookup.Result{Kind: model.KindBuildingXY, Body: []byte(body)}}
	w := serve(t, fl, "/building-by-xy/?x=1&y=2&format=csv")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a,b,c\n1,2,\n,,3\n", w.Body.String())
}

func TestFormat_GeoJSON(t *testing.T) {
	fl := &fakeLookups{res: lookup.Result{Kind: model.KindParcel, Body: []byte(parcelBody)}}
	w := serve(t, fl, "/search-parcel/?parcel_id=120601_1.0001.12&format=geojson")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var f struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		Geometry struct {
			Type        string         `json:"type"`
			Coordinates [][][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]string `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "120601_1.0001.12", f.ID)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	require.Len(t, f.Geometry.Coordinates, 1)
	assert.Len(t, f.Geometry.Coordinates[0], 4)
	assert.Equal(t, "12", f.Properties["NUMER"])
}

func TestFormat_Rejected(t *testing.T) {
	fl := &fakeLookups{res: lookup.Result{Body: []byte(`{}`)}}

	w := serve(t, fl, "/county/?county_id=1263&format=csv")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Expected one of: json")

	w = serve(t, fl, "/search-parcel/?parcel_id=x_1&format=xml")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "json, csv, geojson")
	assert.Empty(t, fl.calls)
}

func TestRegistryRoute(t *testing.T) {
	w := serve(t, &fakeLookups{}, "/registry/1206")
	require.Equal(t, http.StatusOK, w.Code)
	var d model.ServiceDescriptor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "Starosta Krakowski", d.Organization)

	w = serve(t, &fakeLookups{}, "/registry/9999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Service not found for TERYT: 9999")

	w = serve(t, &fakeLookups{}, "/registry/12")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	w := serve(t, &fakeLookups{}, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["services"])
	assert.Equal(t, float64(2), body["open_layers"])
	assert.Equal(t, map[string]any{"wms.example.pl": "open"}, body["breakers"])
	assert.NotContains(t, body, "cache")
}

func TestHealth_ReportsMemoryCacheStats(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(50)
	require.NoError(t, store.Set(ctx, "county:1206", []byte(`{}`), time.Hour))
	_, _, _ = store.Get(ctx, "county:1206")
	_, _, _ = store.Get(ctx, "county:9999")

	s := NewServer(&fakeLookups{}, registry, fakeEngine{}, Config{Cache: store})
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Cache cache.Stats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, cache.Stats{Entries: 1, MaxEntries: 50, Hits: 1, Misses: 1, HitRate: 0.5}, body.Cache)
}

func TestHealth_OmitsStatsForOtherStores(t *testing.T) {
	s := NewServer(&fakeLookups{}, registry, fakeEngine{}, Config{Cache: cache.Noop{}})
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "cache")
}

func TestMetricsRoute(t *testing.T) {
	_ = serve(t, &fakeLookups{res: lookup.Result{Body: []byte(`{}`)}}, "/county/?county_id=1263")
	w := serve(t, &fakeLookups{}, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kataster_http_requests_total")
}
