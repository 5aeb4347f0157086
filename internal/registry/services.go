// Package registry holds the static TERYT prefix → county WFS service table.
package registry

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/kataster/internal/model"
)

const prefixLen = 4

// Services is an immutable, read-only endpoint registry. Safe for concurrent use.
type Services struct {
	byPrefix map[string]model.ServiceDescriptor
}

type fileFormat struct {
	Services []model.ServiceDescriptor `yaml:"services"`
}

// New builds a registry from descriptors. Every descriptor needs a 4-character
// teryt prefix and a URL; a prefix may appear only once.
func New(descriptors []model.ServiceDescriptor) (*Services, error) {
	s := &Services{byPrefix: make(map[string]model.ServiceDescriptor, len(descriptors))}
	for i, d := range descriptors {
		d.Teryt = strings.TrimSpace(d.Teryt)
		d.URL = strings.TrimSpace(d.URL)
		if len(d.Teryt) != prefixLen {
			return nil, eris.Errorf("registry: entry %d: teryt %q must be %d characters", i, d.Teryt, prefixLen)
		}
		if d.URL == "" {
			return nil, eris.Errorf("registry: entry %d (%s): url is required", i, d.Teryt)
		}
		if _, dup := s.byPrefix[d.Teryt]; dup {
			return nil, eris.Errorf("registry: duplicate teryt prefix %s", d.Teryt)
		}
		s.byPrefix[d.Teryt] = d
	}
	return s, nil
}

// LoadFile reads a YAML registry of the form:
//
//	services:
//	  - teryt: "1206"
//	    organization: Starosta Powiatu Krakowskiego
//	    url: https://example.gov.pl/iip/ows
//	    version: auto
func LoadFile(path string) (*Services, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML registry bytes.
func Parse(data []byte) (*Services, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse yaml")
	}
	return New(f.Services)
}

// Lookup implements Lookup. Prefixes that are not exactly 4 characters never match.
func (s *Services) Lookup(prefix string) (model.ServiceDescriptor, bool) {
	if s == nil || len(prefix) != prefixLen {
		return model.ServiceDescriptor{}, false
	}
	d, ok := s.byPrefix[prefix]
	return d, ok
}

// Len returns the number of registered services.
func (s *Services) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byPrefix)
}

// All returns every descriptor sorted by prefix.
func (s *Services) All() []model.ServiceDescriptor {
	if s == nil {
		return nil
	}
	out := make([]model.ServiceDescriptor, 0, len(s.byPrefix))
	for _, d := range s.byPrefix {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Teryt < out[j].Teryt })
	return out
}
