package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahidsiddiqui786/photoselect/archive"
	"github.com/shahidsiddiqui786/photoselect/drive"
	"github.com/shahidsiddiqui786/photoselect/ratelimit"
	"github.com/shahidsiddiqui786/photoselect/rotator"
)

var (
	_ rotator.Events    = (*Registry)(nil)
	_ ratelimit.Metrics = (*Registry)(nil)
	_ drive.Metrics     = (*Registry)(nil)
	_ archive.Metrics   = (*Registry)(nil)
)

func TestCounters(t *testing.T) {
	r := New()

	c := r.Cache("listing")
	c.Hit()
	c.Hit()
	c.Miss()
	r.KeySelected(false)
	r.KeySelected(true)
	r.KeyRateLimited()
	r.Decision("general", "denied")
	r.Request("list", "throttled")
	r.Object("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheEvents.WithLabelValues("listing", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheEvents.WithLabelValues("listing", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.keySelections.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.keyThrottles))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.limiterDecision.WithLabelValues("general", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upstream.WithLabelValues("list", "throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.archiveObjects.WithLabelValues("ok")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	r := New()
	r.HTTPRequest("/api/photos", "200")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `photoselect_http_requests_total{route="/api/photos",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
