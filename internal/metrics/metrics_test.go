package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("parcel", "hit"))
	CacheLookupsTotal.WithLabelValues("parcel", "hit").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("parcel", "hit")), 0.001)
}

func TestHandler(t *testing.T) {
	UpstreamRequestsTotal.WithLabelValues("mapy.geoportal.gov.pl", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kataster_upstream_requests_total")
}
