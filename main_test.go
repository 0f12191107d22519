package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahidsiddiqui786/photoselect/config"
	"github.com/shahidsiddiqui786/photoselect/helper"
	"github.com/shahidsiddiqui786/photoselect/metrics"
	"github.com/shahidsiddiqui786/photoselect/ratelimit"
)

const (
	testFolder = "folder-0000000001"
	goodKey    = "good-key-0000001"
	badKey     = "bad-key-00000002"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// upstream fakes the storage API: one folder with two photos, object
// downloads, and per-key behavior.
type upstream struct {
	throttleAll atomic.Bool
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if u.throttleAll.Load() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if key == badKey {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","errors":[{"reason":"badRequest"}]}}`))
		return
	}

	if strings.HasPrefix(r.URL.Path, "/files/") {
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		if id == "broken" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-" + id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"files":[
		{"id":"p1","name":"first.jpg","mimeType":"image/jpeg"},
		{"id":"p2","name":"second.jpg","mimeType":"image/jpeg"}
	]}`))
}

type testApp struct {
	router   http.Handler
	upstream *upstream
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()

	up := &upstream{}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Drive: config.DriveConfig{BaseURL: srv.URL, APIKeys: []string{goodKey}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, closeApp := buildApp(cfg, logger, metrics.New(), nil)
	t.Cleanup(closeApp)

	return &testApp{router: newRouter(a), upstream: up}
}

func (ta *testApp) do(method, target string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestGetPhotos(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[helper.ListingResponse](t, rec)
	assert.Equal(t, testFolder, first.FolderID)
	assert.Equal(t, 2, first.Count)
	assert.False(t, first.Cached)
	assert.Equal(t, "first.jpg", first.Photos[0].Name)

	rec = ta.do(http.MethodGet, "/api/photos?folder=https://drive.google.com/drive/folders/"+testFolder, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[helper.ListingResponse](t, rec).Cached)

	rec = ta.do(http.MethodGet, "/api/photos?folder="+testFolder+"&recursive=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[helper.ListingResponse](t, rec).Cached)
}

func TestGetPhotosBadInput(t *testing.T) {
	ta := newTestApp(t, nil)

	for _, target := range []string{
		"/api/photos",
		"/api/photos?folder=nope",
		"/api/photos?folder=" + testFolder + "&recursive=maybe",
	} {
		rec := ta.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode[helper.ErrorResponse](t, rec).Error)
	}
}

func TestGetPhotosUpstreamThrottled(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.upstream.throttleAll.Store(true)

	rec := ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestInvalidateRequiresAdminToken(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) { c.Server.AdminToken = "s3cret" })

	ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)

	rec := ta.do(http.MethodDelete, "/api/photos/cache?folder="+testFolder, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(http.MethodDelete, "/api/photos/cache?folder="+testFolder, nil, map[string]string{adminHeader: "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[helper.InvalidateResponse](t, rec).Invalidated)

	rec = ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)
	assert.False(t, decode[helper.ListingResponse](t, rec).Cached)
}

func archiveBody(t *testing.T, req helper.ArchiveRequest) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func TestArchive(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(http.MethodPost, "/api/archive", archiveBody(t, helper.ArchiveRequest{
		ObjectIDs: []string{"p1", "broken", "p2", " "},
		NameMap:   map[string]string{"p1": "cover.jpg", "p2": "cover.jpg"},
		Label:     "Smith Wedding",
	}), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=Smith-Wedding.zip`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "2", rec.Header().Get("X-Archive-Succeeded"))
	assert.Equal(t, "1", rec.Header().Get("X-Archive-Failed"))

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"cover.jpg", "cover-1.jpg"}, names)
}

func TestArchiveRejectsBadRequests(t *testing.T) {
	ta := newTestApp(t, nil)

	ids := make([]string, 501)
	for i := range ids {
		ids[i] = "p1"
	}
	rec := ta.do(http.MethodPost, "/api/archive", archiveBody(t, helper.ArchiveRequest{ObjectIDs: ids}), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[helper.ErrorResponse](t, rec)
	assert.Equal(t, 500, body.MaxObjects)
	assert.Contains(t, body.Error, "500")

	rec = ta.do(http.MethodPost, "/api/archive", archiveBody(t, helper.ArchiveRequest{ObjectIDs: []string{}}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(http.MethodPost, "/api/archive", []byte(`{"label":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveNothingArchived(t *testing.T) {
	ta := newTestApp(t, nil)

	rec := ta.do(http.MethodPost, "/api/archive", archiveBody(t, helper.ArchiveRequest{
		ObjectIDs: []string{"broken", "broken"},
	}), nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[helper.ErrorResponse](t, rec)
	require.NotNil(t, body.Failed)
	assert.Equal(t, 2, *body.Failed)
	assert.Equal(t, 0, *body.Succeeded)
}

func TestClientGoneIsNotServerError(t *testing.T) {
	ta := newTestApp(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/photos?folder="+testFolder, nil),
		httptest.NewRequest(http.MethodPost, "/api/archive",
			bytes.NewReader(archiveBody(t, helper.ArchiveRequest{ObjectIDs: []string{"p1"}}))),
	} {
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		ta.router.ServeHTTP(rec, req.WithContext(ctx))
		assert.Equal(t, statusClientClosedRequest, rec.Code, req.URL.Path)
	}
}

func TestKeyDiagnostics(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) { c.Drive.APIKeys = []string{goodKey, badKey} })

	rec := ta.do(http.MethodGet, "/api/diagnostics/keys", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[helper.DiagnosticsResponse](t, rec)
	require.Len(t, body.Keys, 2)
	assert.Equal(t, "good...0001", body.Keys[0].Key)
	assert.True(t, body.Keys[0].Valid)
	assert.False(t, body.Keys[1].Valid)
	assert.Equal(t, http.StatusBadRequest, body.Keys[1].Status)
	assert.Contains(t, body.Keys[1].Error, "API key not valid")
	require.Len(t, body.Rotator, 2)
	assert.Equal(t, []string{"archive", "diagnostics", "general"}, body.Limiters)
	assert.NotContains(t, rec.Body.String(), goodKey)
}

func TestGeneralRateLimit(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) {
		c.RateLimit.Rules = map[string]ratelimit.Rule{"general": {Limit: 2, Window: time.Minute}}
	})

	for i := 0; i < 2; i++ {
		rec := ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Positive(t, decode[helper.ErrorResponse](t, rec).RetryAfterMs)

	assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, "/healthz", nil, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ta := newTestApp(t, nil)
	ta.do(http.MethodGet, "/api/photos?folder="+testFolder, nil, nil)

	rec := ta.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `photoselect_upstream_requests_total{op="list",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `photoselect_cache_events_total{cache="listing",event="miss"}`)
}
