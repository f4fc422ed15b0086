package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/app"
	"github.com/ternarybob/atozbot/internal/common"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	config := common.NewDefaultConfig()
	config.Storage.SQLite.Path = filepath.Join(dir, "atozbot.db")
	config.Storage.SQLite.WALMode = false
	config.Worker.LockFile = filepath.Join(dir, "worker.lock")
	config.Portal.SkipHealthCheck = true
	config.Cache.Type = "memory"

	application, err := app.New(config, nil, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	ts := httptest.NewServer(New(application).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func request(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/health/detailed", "", http.StatusOK},
		{http.MethodGet, "/api/version", "", http.StatusOK},
		{http.MethodGet, "/api/config", "", http.StatusOK},
		{http.MethodGet, "/api/bot/status", "", http.StatusOK},
		{http.MethodGet, "/api/bot/configuration", "", http.StatusOK},
		{http.MethodDelete, "/api/bot/configuration", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/bot/tasks", "", http.StatusOK},
		{http.MethodPost, "/api/bot/tasks/next", "", http.StatusNoContent},
		{http.MethodPost, "/api/bot/tasks/unknown/complete", `{"success":true}`, http.StatusNotFound},
		{http.MethodGet, "/api/bot/sessions", "", http.StatusOK},
		{http.MethodGet, "/api/bot/analytics/periods", "", http.StatusOK},
		{http.MethodGet, "/api/bot/dashboard/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/bot/stop", "", http.StatusBadRequest},
		{http.MethodGet, "/api/scheduler/jobs", "", http.StatusOK},
		{http.MethodPost, "/api/scheduler/jobs/nope/trigger", "", http.StatusNotFound},
		{http.MethodGet, "/api/nothing-here", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := request(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	resp := request(t, ts, http.MethodOptions, "/api/bot/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
