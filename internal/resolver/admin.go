package resolver

import (
	"context"
	"strings"

	"github.com/sells-group/kataster/internal/adapter"
	"github.com/sells-group/kataster/internal/engine"
	"github.com/sells-group/kataster/internal/gml"
	"github.com/sells-group/kataster/internal/model"
)

// PRG attribute names.
const (
	attrName  = "JPT_NAZWA_"
	attrCode  = "JPT_KOD_JE"
	attrRegon = "REGON"
	attrType  = "JPT_SJR_KO"
)

// KIEG probe attribute names.
const (
	keyCommune     = "Gmina"
	keyRegion      = "Obręb"
	keyRegionID    = "Identyfikator obrębu"
	keyCounty      = "Powiat"
	keyVoivodeship = "Województwo"
)

// unitKind describes an administrative level in the PRG service.
type unitKind struct {
	kind     model.Kind
	layer    string
	prefix   bool
	withType bool
	notFound string
	set      func(r *model.AdministrativeResult, id string, u *model.AdministrativeUnit)
}

var regions = unitKind{
	kind:     model.KindRegion,
	layer:    "A06_Granice_obrebow_ewidencyjnych",
	notFound: "Region not found",
	set: func(r *model.AdministrativeResult, id string, u *model.AdministrativeUnit) {
		r.RegionID, r.Region = id, u
	},
}

var communes = unitKind{
	kind:     model.KindCommune,
	layer:    "A03_Granice_gmin",
	withType: true,
	notFound: "Commune not found",
	set: func(r *model.AdministrativeResult, id string, u *model.AdministrativeUnit) {
		r.CommuneID, r.Commune = id, u
	},
}

var counties = unitKind{
	kind:     model.KindCounty,
	layer:    "A02_Granice_powiatow",
	prefix:   true,
	notFound: "County not found",
	set: func(r *model.AdministrativeResult, id string, u *model.AdministrativeUnit) {
		r.CountyID, r.County = id, u
	},
}

var voivodeships = unitKind{
	kind:     model.KindVoivodeship,
	layer:    "A01_Granice_wojewodztw",
	prefix:   true,
	notFound: "Voivodeship not found",
	set: func(r *model.AdministrativeResult, id string, u *model.AdministrativeUnit) {
		r.VoivodeshipID, r.Voivodeship = id, u
	},
}

func (r *Resolver) prg(layer string, filter engine.Filter) adapter.MatchRequest {
	return adapter.MatchRequest{
		URL:      r.cfg.PRGURL,
		Version:  r.cfg.PRGVersion,
		Variants: []string{layer},
		Filter:   filter,
		Dialect:  gml.SourceWFS,
	}
}

// unit resolves an administrative unit by code against PRG. Counties and
// voivodeships match by code prefix.
func (r *Resolver) unit(ctx context.Context, uk unitKind, id string) (model.Resolution, error) {
	filter := engine.Equal(attrCode, id)
	if uk.prefix {
		filter = engine.Like(attrCode, engine.EscapeLike(id)+"%")
	}

	res := r.features.Match(ctx, r.prg(uk.layer, filter))
	details := map[string]any{uk.kind.Param(): id}
	switch res.Status {
	case adapter.TransportError:
		return model.Resolution{}, model.Upstream("Request failed", res.Err, details)
	case adapter.Empty:
		return model.Resolution{}, model.Fail(model.ErrNotFound, uk.notFound, details)
	}

	f, _ := res.First()
	u := prgUnit(f.Attributes, uk.withType)
	out := &model.AdministrativeResult{Source: model.SourcePRG}
	uk.set(out, id, &u)
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

// SearchRegions finds cadastral regions whose name contains q, in upstream
// order, up to gml.MaxFeatures. A query shaped like a region identifier is
// resolved as a region lookup instead.
func (r *Resolver) SearchRegions(ctx context.Context, q string) (model.Resolution, error) {
	if model.LooksLikeRegionID(q) {
		return r.unit(ctx, regions, q)
	}

	req := r.prg(regions.layer, engine.Like(attrName, "%"+engine.EscapeLike(q)+"%"))
	req.Limit = gml.MaxFeatures
	res := r.features.Search(ctx, req)
	details := map[string]any{"query": q}
	switch res.Status {
	case adapter.TransportError:
		return model.Resolution{}, model.Upstream("Service error", res.Err, details)
	case adapter.Empty:
		return model.Resolution{}, model.Fail(model.ErrNotFound, "No regions found", details)
	}

	out := &model.AdministrativeResult{Query: q, Source: model.SourcePRG}
	for _, f := range res.Features {
		out.Regions = append(out.Regions, prgUnit(f.Attributes, false))
	}
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

func prgUnit(attrs map[string]string, withType bool) model.AdministrativeUnit {
	u := model.AdministrativeUnit{
		Name:  attrs[attrName],
		Teryt: attrs[attrCode],
		Regon: attrs[attrRegon],
	}
	if withType {
		u.UnitType = attrs[attrType]
	}
	return u
}

// probeUnit runs the KIEG probe for an administrative lookup. Empty answers
// are not-found; transport failures are upstream errors.
func (r *Resolver) probeUnit(ctx context.Context, pt model.Point, layer, notFound string) (map[string]string, error) {
	res := r.probe.Probe(ctx, adapter.ProbeRequest{Point: pt, Layers: []string{layer}})
	switch res.Status {
	case adapter.TransportError:
		return nil, model.Upstream("Request failed", res.Err, coordDetails(pt))
	case adapter.Empty:
		return nil, model.Fail(model.ErrNotFound, notFound, coordDetails(pt))
	}
	f, _ := res.First()
	return f.Attributes, nil
}

func (r *Resolver) regionAt(ctx context.Context, pt model.Point) (model.Resolution, error) {
	attrs, err := r.probeUnit(ctx, pt, "obreby", "Region not found at coordinates")
	if err != nil {
		return model.Resolution{}, err
	}
	out := &model.AdministrativeResult{
		Coordinates: pt.Coordinates(),
		Region: &model.AdministrativeUnit{
			Name:        attrs[keyRegion],
			Teryt:       regionTeryt(attrs),
			Powiat:      attrs[keyCounty],
			Wojewodztwo: attrs[keyVoivodeship],
		},
		Source: model.SourcePRG,
	}
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

func (r *Resolver) communeAt(ctx context.Context, pt model.Point) (model.Resolution, error) {
	attrs, err := r.probeUnit(ctx, pt, "obreby", "Commune not found at coordinates")
	if err != nil {
		return model.Resolution{}, err
	}
	commune := &model.AdministrativeUnit{
		Name:        attrs[keyCommune],
		Obreb:       attrs[keyRegion],
		Wojewodztwo: attrs[keyVoivodeship],
		Powiat:      attrs[keyCounty],
	}
	if id := regionTeryt(attrs); id != "" {
		commune.Teryt, _, _ = strings.Cut(id, ".")
	}
	out := &model.AdministrativeResult{Coordinates: pt.Coordinates(), Commune: commune, Source: model.SourcePRG}
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

func (r *Resolver) countyAt(ctx context.Context, pt model.Point) (model.Resolution, error) {
	attrs, err := r.probeUnit(ctx, pt, "dzialki", "County not found at coordinates")
	if err != nil {
		return model.Resolution{}, err
	}
	out := &model.AdministrativeResult{
		Coordinates: pt.Coordinates(),
		County: &model.AdministrativeUnit{
			Name:        attrs[keyCounty],
			Wojewodztwo: attrs[keyVoivodeship],
		},
		Source: model.SourcePRG,
	}
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

func (r *Resolver) voivodeshipAt(ctx context.Context, pt model.Point) (model.Resolution, error) {
	attrs, err := r.probeUnit(ctx, pt, "dzialki", "Voivodeship not found at coordinates")
	if err != nil {
		return model.Resolution{}, err
	}
	out := &model.AdministrativeResult{
		Coordinates: pt.Coordinates(),
		Voivodeship: &model.AdministrativeUnit{Name: attrs[keyVoivodeship]},
		Source:      model.SourcePRG,
	}
	return model.Resolution{Payload: out, Confidence: model.ConfidenceFull}, nil
}

// regionTeryt returns the probed region identifier when it has the
// WWPPGG_R.OOOO shape.
func regionTeryt(attrs map[string]string) string {
	id := attrs[keyRegionID]
	if model.IsRegionID(id) {
		return id
	}
	return ""
}
