package model

import (
	"math"
	"strconv"
	"strings"
)

// Kind names a lookup. It is the first segment of every cache key.
type Kind string

const (
	KindParcel        Kind = "parcel"
	KindBuilding      Kind = "building"
	KindRegion        Kind = "region"
	KindCommune       Kind = "commune"
	KindCounty        Kind = "county"
	KindVoivodeship   Kind = "voivodeship"
	KindRegionSearch  Kind = "region_search"
	KindParcelXY      Kind = "parcel_xy"
	KindBuildingXY    Kind = "building_xy"
	KindRegionXY      Kind = "region_xy"
	KindCommuneXY     Kind = "commune_xy"
	KindCountyXY      Kind = "county_xy"
	KindVoivodeshipXY Kind = "voivodeship_xy"
)

const (
	prefixLen          = 4
	voivodeshipCodeLen = 2
)

// IdentifierKinds lists kinds keyed by an identifier.
var IdentifierKinds = []Kind{KindParcel, KindBuilding, KindRegion, KindCommune, KindCounty, KindVoivodeship}

// CoordinateKinds lists kinds keyed by a coordinate pair.
var CoordinateKinds = []Kind{KindParcelXY, KindBuildingXY, KindRegionXY, KindCommuneXY, KindCountyXY, KindVoivodeshipXY}

// ParseKind maps a user-supplied name ("parcel", "building_xy", ...) to a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == KindRegionSearch {
		return k, true
	}
	for _, known := range IdentifierKinds {
		if k == known {
			return k, true
		}
	}
	for _, known := range CoordinateKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// IsCoordinate reports whether k is resolved from a coordinate pair.
func (k Kind) IsCoordinate() bool {
	return strings.HasSuffix(string(k), "_xy")
}

// Param is the query parameter that carries the identifier for k.
func (k Kind) Param() string {
	switch k {
	case KindRegionSearch:
		return "query"
	case KindParcel, KindBuilding, KindRegion, KindCommune, KindCounty, KindVoivodeship:
		return string(k) + "_id"
	default:
		return ""
	}
}

// ValidateIdentifier applies the structural rules for k's identifier. It never
// touches the network; failures are ErrInvalidInput.
func ValidateIdentifier(k Kind, id string) error {
	param := k.Param()
	if k == KindRegionSearch && strings.TrimSpace(id) == "" {
		return Fail(ErrInvalidInput, "query parameter required", nil)
	}
	if id == "" {
		return Fail(ErrInvalidInput, param+" required", nil)
	}

	ok := true
	expected := ""
	switch k {
	case KindParcel:
		ok = strings.Contains(id, "_") && len(id) >= prefixLen
	case KindBuilding:
		ok = len(id) >= prefixLen
	case KindRegion:
		ok = IsRegionID(id)
		expected = "WWPPGG_R.OOOO"
	case KindCommune:
		ok = strings.Contains(id, "_")
		expected = "WWPPGG_R"
	case KindCounty:
		ok = len(id) == prefixLen
		expected = "WWPP"
	case KindVoivodeship:
		ok = len(id) == voivodeshipCodeLen
		expected = "WW"
	}
	if ok {
		return nil
	}

	msg := "Invalid " + param + " format"
	if expected != "" {
		msg += ". Expected format: " + expected
	}
	return Fail(ErrInvalidInput, msg, map[string]any{param: id})
}

// IsRegionID reports whether s has the two-part cadastral region shape
// WWPPGG_R.OOOO: exactly one underscore with a dot in the second part.
func IsRegionID(s string) bool {
	parts := strings.Split(s, "_")
	return len(parts) == 2 && strings.Contains(parts[1], ".")
}

// LooksLikeRegionID reports whether a free-text search query should be
// treated as a region identifier lookup instead.
func LooksLikeRegionID(q string) bool {
	return strings.Contains(q, "_") && strings.Contains(q, ".")
}

// ParsePoint validates raw coordinate parameters. epsg defaults to DefaultEPSG.
func ParsePoint(rawX, rawY, epsg string) (Point, error) {
	if rawX == "" || rawY == "" {
		return Point{}, Fail(ErrInvalidInput, "x and y coordinates required", nil)
	}
	if epsg == "" {
		epsg = DefaultEPSG
	}

	x, errX := strconv.ParseFloat(strings.TrimSpace(rawX), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(rawY), 64)
	if errX != nil || errY != nil || !finite(x) || !finite(y) {
		return Point{}, Fail(ErrInvalidInput, "Invalid coordinates", map[string]any{"x": rawX, "y": rawY})
	}
	return Point{X: x, Y: y, EPSG: epsg}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// TerytPrefix returns the 4-character county prefix of an identifier, or ""
// when the identifier is too short.
func TerytPrefix(id string) string {
	if len(id) < prefixLen {
		return ""
	}
	return id[:prefixLen]
}

// ParcelTerytPrefix derives the county prefix from a parcel identifier of the
// form TERYT_SEQUENCE, using only the part before the first underscore.
func ParcelTerytPrefix(id string) string {
	head, _, _ := strings.Cut(id, "_")
	return TerytPrefix(head)
}
