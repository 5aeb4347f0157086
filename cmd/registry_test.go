package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kataster/internal/registry"
)

const testRegistryYAML = `
services:
  - teryt: "1261"
    organization: Urząd Miasta Krakowa
    url: https://msip.example.pl/iip/ows
    version: auto
  - teryt: "1206"
    organization: Starostwo Powiatowe w Krakowie
    url: https://wms.example.pl/iip/ows
    version: "2.0.0"
`

func testRegistry(t *testing.T) *registry.Services {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistryYAML))
	require.NoError(t, err)
	return reg
}

func TestListServices(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, listServices(&out, testRegistry(t)))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "TERYT")
	assert.Contains(t, string(lines[1]), "1206")
	assert.Contains(t, string(lines[2]), "1261")
}

func TestShowService_ByIdentifier(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showService(&out, testRegistry(t), "126101_1.0001.12"))
	assert.Contains(t, out.String(), "https://msip.example.pl/iip/ows")
	assert.Contains(t, out.String(), "Urząd Miasta Krakowa")
}

func TestShowService_NotFound(t *testing.T) {
	var out bytes.Buffer
	err := showService(&out, testRegistry(t), "9999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service not found for TERYT: 9999")
}
