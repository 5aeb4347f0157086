package engine

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// Filter is a single-property OGC filter: equality, or LIKE with "%" as the
// wildcard.
type Filter struct {
	Property string
	Value    string
	Like     bool
}

// Equal builds an equality filter.
func Equal(property, value string) Filter {
	return Filter{Property: property, Value: value}
}

// Like builds a wildcard filter. value carries its own "%" wildcards.
func Like(property, value string) Filter {
	return Filter{Property: property, Value: value, Like: true}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike quotes the wildcard, single-char and escape characters of s so
// it matches literally inside a Like value.
func EscapeLike(s string) string { return likeEscaper.Replace(s) }

// Empty reports whether the filter has no property.
func (f Filter) Empty() bool { return f.Property == "" }

// Encode renders the filter for the given WFS version: FES 2.0 for 2.x,
// OGC Filter 1.1 for 1.1.x and OGC Filter 1.0 otherwise.
func (f Filter) Encode(version string) string {
	if f.Empty() {
		return ""
	}
	prop, lit := escape(f.Property), escape(f.Value)

	var b strings.Builder
	switch {
	case strings.HasPrefix(version, "2."):
		b.WriteString(`<fes:Filter xmlns:fes="http://www.opengis.net/fes/2.0">`)
		if f.Like {
			b.WriteString(`<fes:PropertyIsLike wildCard="%" singleChar="_" escapeChar="\">`)
		} else {
			b.WriteString(`<fes:PropertyIsEqualTo>`)
		}
		b.WriteString(`<fes:ValueReference>` + prop + `</fes:ValueReference>`)
		b.WriteString(`<fes:Literal>` + lit + `</fes:Literal>`)
		if f.Like {
			b.WriteString(`</fes:PropertyIsLike>`)
		} else {
			b.WriteString(`</fes:PropertyIsEqualTo>`)
		}
		b.WriteString(`</fes:Filter>`)
	default:
		escAttr := `escape="\"`
		if strings.HasPrefix(version, "1.1") {
			escAttr = `escapeChar="\"`
		}
		b.WriteString(`<ogc:Filter xmlns:ogc="http://www.opengis.net/ogc">`)
		if f.Like {
			b.WriteString(`<ogc:PropertyIsLike wildCard="%" singleChar="_" ` + escAttr + `>`)
		} else {
			b.WriteString(`<ogc:PropertyIsEqualTo>`)
		}
		b.WriteString(`<ogc:PropertyName>` + prop + `</ogc:PropertyName>`)
		b.WriteString(`<ogc:Literal>` + lit + `</ogc:Literal>`)
		if f.Like {
			b.WriteString(`</ogc:PropertyIsLike>`)
		} else {
			b.WriteString(`</ogc:PropertyIsEqualTo>`)
		}
		b.WriteString(`</ogc:Filter>`)
	}
	return b.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
