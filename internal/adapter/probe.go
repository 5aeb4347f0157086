package adapter

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kataster/internal/gml"
	"github.com/sells-group/kataster/internal/model"
	"github.com/sells-group/kataster/internal/resilience"
)

// DefaultProbeURL is the national cadastral integration WMS.
const DefaultProbeURL = "https://integracja.gugik.gov.pl/cgi-bin/KrajowaIntegracjaEwidencjiGruntow"

const (
	defaultHalfWidth = 50.0
	defaultPixels    = 101
)

// Fetcher performs a bounded GET.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, insecure bool) ([]byte, error)
}

// ProbeConfig configures the spatial probe.
type ProbeConfig struct {
	URL string
	// HalfWidth is half the side of the square bbox, in CRS units. Default 50.
	HalfWidth float64
	// Pixels is the image width and height. Default 101; the probe pixel is
	// the centre.
	Pixels int
}

// ProbeRequest names the point and the WMS layers to query.
type ProbeRequest struct {
	Point  model.Point
	Layers []string
}

// ProbeAdapter issues WMS GetFeatureInfo requests around a point.
type ProbeAdapter struct {
	fetcher Fetcher
	cfg     ProbeConfig
}

// NewProbeAdapter creates a ProbeAdapter. Zero config values take defaults.
func NewProbeAdapter(f Fetcher, cfg ProbeConfig) *ProbeAdapter {
	if cfg.URL == "" {
		cfg.URL = DefaultProbeURL
	}
	if cfg.HalfWidth <= 0 {
		cfg.HalfWidth = defaultHalfWidth
	}
	if cfg.Pixels <= 0 {
		cfg.Pixels = defaultPixels
	}
	return &ProbeAdapter{fetcher: f, cfg: cfg}
}

// Probe returns the features visible at the point, in upstream order.
// Upstream refusals and unparseable bodies are Empty.
func (p *ProbeAdapter) Probe(ctx context.Context, req ProbeRequest) Result {
	target, err := p.URL(req)
	if err != nil {
		return Result{Status: TransportError, Err: err}
	}

	body, err := p.fetcher.Fetch(ctx, target, false)
	if err != nil {
		if resilience.IsTransport(err) {
			return Result{Status: TransportError, Err: err}
		}
		zap.L().Debug("adapter: probe rejected", zap.String("layers", strings.Join(req.Layers, ",")), zap.Error(err))
		return Result{Status: Empty}
	}

	features := gml.Parse(gml.SourceFeatureInfo, body, gml.Options{})
	if len(features) == 0 {
		return Result{Status: Empty}
	}
	return Result{Status: Found, Features: features, Variant: strings.Join(req.Layers, ",")}
}

// URL builds the GetFeatureInfo request for req.
func (p *ProbeAdapter) URL(req ProbeRequest) (string, error) {
	if len(req.Layers) == 0 {
		return "", eris.New("adapter: probe needs at least one layer")
	}
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return "", eris.Wrapf(err, "adapter: parse probe url %q", p.cfg.URL)
	}

	epsg := req.Point.EPSG
	if epsg == "" {
		epsg = model.DefaultEPSG
	}
	b := p.cfg.HalfWidth
	x, y := req.Point.X, req.Point.Y
	bbox := strings.Join([]string{
		model.FormatCoord(x - b), model.FormatCoord(y - b),
		model.FormatCoord(x + b), model.FormatCoord(y + b),
	}, ",")
	size := strconv.Itoa(p.cfg.Pixels)
	centre := strconv.Itoa(p.cfg.Pixels / 2)
	layers := strings.Join(req.Layers, ",")

	q := u.Query()
	q.Set("VERSION", "1.3.0")
	q.Set("SERVICE", "WMS")
	q.Set("REQUEST", "GetFeatureInfo")
	q.Set("LAYERS", layers)
	q.Set("QUERY_LAYERS", layers)
	q.Set("CRS", "EPSG:"+epsg)
	q.Set("WIDTH", size)
	q.Set("HEIGHT", size)
	q.Set("I", centre)
	q.Set("J", centre)
	q.Set("INFO_FORMAT", "text/xml")
	q.Set("BBOX", bbox)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
