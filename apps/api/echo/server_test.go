package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/apps/shared"
	"github.com/trezcool/masomo/core"
	"github.com/trezcool/masomo/storage/database/inmem"
)

func setup(t *testing.T) (*Server, *shared.App, *inmemdb.Cluster) {
	conf := &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "Masomo",
		Storage:  core.StorageConfig{Driver: core.DriverMemory, NamespacePrefix: "school_"},
		Sequence: core.SequenceConfig{Overflow: core.OverflowFail},
	}
	cluster := inmemdb.Open()
	reg := prometheus.NewRegistry()
	app := shared.New(conf, nil, cluster, reg)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	srv := NewServer(Options{DisableReqLogs: true, App: app, Gatherer: reg})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, app, cluster
}

func do(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, echo.Map) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	body := echo.Map{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_home(t *testing.T) {
	srv, _, _ := setup(t)

	rec, _ := do(t, srv, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Masomo API!", rec.Body.String())
}

func TestServer_health(t *testing.T) {
	srv, app, _ := setup(t)
	_, err := app.Registry.Resolve(context.Background(), "nps")
	require.NoError(t, err)

	rec, body := do(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["tenants"])
}

func TestServer_metrics(t *testing.T) {
	srv, app, _ := setup(t)
	_, err := app.Registry.Resolve(context.Background(), "nps")
	require.NoError(t, err)

	rec, _ := do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "masomo_tenant_connections_opened_total 1")
}

func TestServer_tenants(t *testing.T) {
	srv, _, cluster := setup(t)

	rec, body := do(t, srv, http.MethodGet, "/v1/tenants/nps")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school_nps", body["namespace"])
	assert.Equal(t, false, body["initialized"])

	rec, _ = do(t, srv, http.MethodPost, "/v1/tenants/NPS/bootstrap")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, body = do(t, srv, http.MethodGet, "/v1/tenants/nps/")
	assert.Equal(t, true, body["initialized"])

	rec, body = do(t, srv, http.MethodGet, "/v1/tenants/nps/next-id/teacher")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NPS-T-0001", body["identifier"])

	_, body = do(t, srv, http.MethodGet, "/v1/tenants")
	assert.Equal(t, []interface{}{"nps"}, body["tenants"])

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "bad tenant", path: "/v1/tenants/n-p-s", wantCode: http.StatusBadRequest},
		{name: "bad role", path: "/v1/tenants/nps/next-id/janitor", wantCode: http.StatusBadRequest},
		{name: "unknown route", path: "/v1/lol", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, srv, http.MethodGet, tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}

	cluster.SetUnreachable(true)
	rec, body = do(t, srv, http.MethodGet, "/v1/tenants/other")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection error", body["error"])
}
