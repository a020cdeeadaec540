package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMetrics_Observe(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveUpstream("get", 200, 10*time.Millisecond)
	m.ObserveUpstream("GET", 200, 10*time.Millisecond)
	m.ObserveUpstream("POST", 0, time.Millisecond)
	m.ObserveRefresh("ok")
	m.ObserveHTTP("GET", "/api/resources/{resource}", "/api/resources/guides", 0, time.Millisecond)
	m.ObserveHTTP("GET", "", "/api/unknown/42", 404, time.Millisecond)
	done := m.TrackInflight()
	done()

	out := scrape(t, m)
	assert.Contains(t, out, `upstream_requests_total{method="GET",status="200"} 2`)
	assert.Contains(t, out, `upstream_requests_total{method="POST",status="0"} 1`)
	assert.Contains(t, out, `token_refresh_total{result="ok"} 1`)
	assert.Contains(t, out, `http_requests_total{method="GET",route="/api/resources/{resource}",status="200"} 1`)
	assert.Contains(t, out, `http_requests_total{method="GET",route="/api/unknown/:param",status="404"} 1`)
	assert.Contains(t, out, `http_inflight_requests 0`)
}

func TestNew_TwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)

	a.ObserveRefresh("failed")
	b.ObserveRefresh("failed")
	assert.Contains(t, scrape(t, a), `token_refresh_total{result="failed"} 2`)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/":                    "/",
		"/api/resources/kyc/7": "/api/resources/kyc/:param",
		"/api/resources/guides/3f2b7c1e-0b8a-4a3e-9d1c-2f7d2e8c9b10?x=1": "/api/resources/guides/:param",
		"/healthz": "/healthz",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}
