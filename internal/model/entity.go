package model

import (
	"strconv"
	"strings"
)

// Upstream source tags reported in result payloads.
const (
	SourcePRG  = "PRG"
	SourceKIEG = "KrajowaIntegracjaEwidencjiGruntow"
)

// Notes attached to degraded coordinate results.
const (
	NoteServiceUnavailable  = "WFS service not available for geometry"
	NoteGeometryUnavailable = "Geometry not available from WFS"
)

// DefaultEPSG is the national planar reference system (PUWG 1992).
const DefaultEPSG = "2180"

// Confidence classifies a resolved payload for cache TTL selection.
type Confidence int

const (
	// ConfidencePartial marks degraded results: attributes without geometry or
	// raw probe features without a resolved identifier.
	ConfidencePartial Confidence = iota
	// ConfidenceFull marks complete answers.
	ConfidenceFull
)

func (c Confidence) String() string {
	if c == ConfidenceFull {
		return "full"
	}
	return "partial"
}

// ServiceDescriptor describes a per-county WFS service from the endpoint registry.
type ServiceDescriptor struct {
	ID           string `json:"id,omitempty" yaml:"id"`
	Organization string `json:"organization" yaml:"organization"`
	Teryt        string `json:"teryt" yaml:"teryt"`
	URL          string `json:"url" yaml:"url"`
	Version      string `json:"version,omitempty" yaml:"version"`
}

// Point is a planar coordinate pair in the given EPSG reference system.
type Point struct {
	X    float64
	Y    float64
	EPSG string
}

// Coordinates is the wire form of a Point echoed back in coordinate results.
type Coordinates struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	EPSG string  `json:"epsg"`
}

// Coordinates returns the wire form of p.
func (p Point) Coordinates() *Coordinates {
	return &Coordinates{X: p.X, Y: p.Y, EPSG: p.EPSG}
}

// FormatCoord renders a coordinate the way it was received: shortest exact
// decimal form, always with a fractional part ("500000.0", "19.9449799").
func FormatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// AdministrativeUnit is a voivodeship, county, commune or cadastral region.
// Identity is the teryt code.
type AdministrativeUnit struct {
	Name        string `json:"name"`
	Teryt       string `json:"teryt,omitempty"`
	Regon       string `json:"regon,omitempty"`
	UnitType    string `json:"type,omitempty"`
	Obreb       string `json:"obreb,omitempty"`
	Powiat      string `json:"powiat,omitempty"`
	Wojewodztwo string `json:"wojewodztwo,omitempty"`
}

// AdministrativeResult is the payload for administrative unit lookups.
// Exactly one of the unit fields (or Regions) is populated per lookup kind.
type AdministrativeResult struct {
	Query         string               `json:"query,omitempty"`
	RegionID      string               `json:"region_id,omitempty"`
	CommuneID     string               `json:"commune_id,omitempty"`
	CountyID      string               `json:"county_id,omitempty"`
	VoivodeshipID string               `json:"voivodeship_id,omitempty"`
	Coordinates   *Coordinates         `json:"coordinates,omitempty"`
	Region        *AdministrativeUnit  `json:"region,omitempty"`
	Commune       *AdministrativeUnit  `json:"commune,omitempty"`
	County        *AdministrativeUnit  `json:"county,omitempty"`
	Voivodeship   *AdministrativeUnit  `json:"voivodeship,omitempty"`
	Regions       []AdministrativeUnit `json:"regions,omitempty"`
	Source        string               `json:"source"`
}

// PropertyResult is the payload for parcel and building lookups. Geometry is
// WKT and is empty when no compatible feature-layer service answered.
type PropertyResult struct {
	Coordinates *Coordinates        `json:"coordinates,omitempty"`
	Teryt       string              `json:"teryt,omitempty"`
	Service     *ServiceDescriptor  `json:"service,omitempty"`
	ParcelID    string              `json:"parcel_id,omitempty"`
	BuildingID  string              `json:"building_id,omitempty"`
	LayerName   string              `json:"layer_name,omitempty"`
	Attributes  map[string]string   `json:"attributes,omitempty"`
	Geometry    string              `json:"geometry,omitempty"`
	Features    []map[string]string `json:"features,omitempty"`
	Source      string              `json:"source,omitempty"`
	Note        string              `json:"note,omitempty"`
}

// ID returns whichever of the parcel or building identifiers is set.
func (r *PropertyResult) ID() string {
	if r.ParcelID != "" {
		return r.ParcelID
	}
	return r.BuildingID
}

// Resolution is a resolver answer plus the confidence used for caching.
type Resolution struct {
	Payload    any
	Confidence Confidence
}
