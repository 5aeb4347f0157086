package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kataster/internal/model"
)

const sampleYAML = `
services:
  - teryt: "1206"
    id: PL.PZGiK.1
    organization: Starosta Powiatu Krakowskiego
    url: https://wms.powiat.krakow.pl:1518/iip/ows
    version: auto
  - teryt: "1465"
    organization: Prezydent m.st. Warszawy
    url: https://wms2.um.warszawa.pl/geoserver/wfs/wfs
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	d, ok := s.Lookup("1206")
	require.True(t, ok)
	assert.Equal(t, "PL.PZGiK.1", d.ID)
	assert.Equal(t, "Starosta Powiatu Krakowskiego", d.Organization)
	assert.Equal(t, "auto", d.Version)

	_, ok = s.Lookup("9999")
	assert.False(t, ok)
}

func TestLookup_PrefixLength(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, ok := s.Lookup("120")
	assert.False(t, ok)
	_, ok = s.Lookup("12060")
	assert.False(t, ok)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]model.ServiceDescriptor{
		{Teryt: "1206", URL: "https://a"},
		{Teryt: "1206", URL: "https://b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate teryt prefix 1206")
}

func TestNew_RejectsBadEntries(t *testing.T) {
	_, err := New([]model.ServiceDescriptor{{Teryt: "12", URL: "https://a"}})
	require.Error(t, err)

	_, err = New([]model.ServiceDescriptor{{Teryt: "1206"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfs_services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "1206", all[0].Teryt)
	assert.Equal(t, "1465", all[1].Teryt)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNilServices(t *testing.T) {
	var s *Services
	_, ok := s.Lookup("1206")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.All())
}
