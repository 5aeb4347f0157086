// Package api exposes lookups over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/kataster/internal/cache"
	"github.com/sells-group/kataster/internal/lookup"
	"github.com/sells-group/kataster/internal/metrics"
	"github.com/sells-group/kataster/internal/model"
	"github.com/sells-group/kataster/internal/resilience"
)

// Lookuper validates and resolves lookups.
type Lookuper interface {
	ByIdentifier(ctx context.Context, kind model.Kind, id string) (lookup.Result, error)
	ByPoint(ctx context.Context, kind model.Kind, rawX, rawY, epsg string) (lookup.Result, error)
}

// Registry exposes the endpoint registry.
type Registry interface {
	Lookup(prefix string) (model.ServiceDescriptor, bool)
	Len() int
}

// EngineStats reports engine health.
type EngineStats interface {
	OpenHandles() int64
	BreakerStates() map[string]resilience.State
}

// Config holds HTTP-layer settings.
type Config struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Cache is reported on /health when it implements cache.StatsReporter.
	Cache cache.Store
}

// Server holds the handlers' dependencies.
type Server struct {
	lookups  Lookuper
	registry Registry
	engine   EngineStats
	cfg      Config
}

// NewServer creates a Server. engine may be nil.
func NewServer(lookups Lookuper, registry Registry, engine EngineStats, cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{lookups: lookups, registry: registry, engine: engine, cfg: cfg}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{cacheHeader, requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(accessLog)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/registry/{prefix}", s.handleRegistry)

	r.Get("/search-parcel/", s.identifier(model.KindParcel))
	r.Get("/search-building/", s.identifier(model.KindBuilding))
	r.Get("/parcel-by-xy/", s.point(model.KindParcelXY))
	r.Get("/building-by-xy/", s.point(model.KindBuildingXY))

	r.Get("/region/", s.identifier(model.KindRegion))
	r.Get("/region/search/", s.identifier(model.KindRegionSearch))
	r.Get("/commune/", s.identifier(model.KindCommune))
	r.Get("/county/", s.identifier(model.KindCounty))
	r.Get("/voivodeship/", s.identifier(model.KindVoivodeship))

	r.Get("/region-by-xy/", s.point(model.KindRegionXY))
	r.Get("/commune-by-xy/", s.point(model.KindCommuneXY))
	r.Get("/county-by-xy/", s.point(model.KindCountyXY))
	r.Get("/voivodeship-by-xy/", s.point(model.KindVoivodeshipXY))

	return r
}

func (s *Server) identifier(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := parseFormat(kind, r.URL.Query().Get("format"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		res, err := s.lookups.ByIdentifier(r.Context(), kind, r.URL.Query().Get(kind.Param()))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeResult(w, res, format)
	}
}

func (s *Server) point(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		format, err := parseFormat(kind, q.Get("format"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		res, err := s.lookups.ByPoint(r.Context(), kind, q.Get("x"), q.Get("y"), q.Get("epsg"))
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeResult(w, res, format)
	}
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if len(prefix) != 4 {
		writeLookupError(w, model.Fail(model.ErrInvalidInput, "Invalid prefix. Expected format: WWPP", map[string]any{"prefix": prefix}))
		return
	}
	desc, ok := s.registry.Lookup(prefix)
	if !ok {
		writeLookupError(w, model.Fail(model.ErrServiceNotFound, "Service not found for TERYT: "+prefix, map[string]any{"teryt": prefix}))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"services": s.registry.Len(),
	}
	if s.engine != nil {
		breakers := map[string]string{}
		for host, st := range s.engine.BreakerStates() {
			breakers[host] = st.String()
		}
		body["open_layers"] = s.engine.OpenHandles()
		body["breakers"] = breakers
	}
	if sr, ok := s.cfg.Cache.(cache.StatsReporter); ok {
		body["cache"] = sr.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
