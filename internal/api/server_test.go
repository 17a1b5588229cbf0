package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
	"github.com/openjudiciary/ecourts-archiver/internal/config"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T, cfg config.Config) (*Server, *archive.Manager) {
	t.Helper()
	baseDir := t.TempDir()
	clk := fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	index := archive.NewIndexStore(baseDir, clk)
	syncer := archive.NewSyncer(memory.New(), "archives", archive.DefaultRetryPolicy(), clk, zap.NewNop())
	manager := archive.NewManager(archive.ManagerConfig{BaseDir: baseDir, ImmediateUpload: true},
		index, syncer, nil, nil, clk, zap.NewNop())
	return NewServer(manager, index, syncer, cfg, zap.NewNop()), manager
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GetIndexRecord(t *testing.T) {
	t.Parallel()

	server, manager := newTestServer(t, config.Config{})
	key := archive.Key{
		Year: 2025, StateCode: "29", DistrictCode: "22", ComplexCode: "2900101",
		Type: archive.TypeOrders,
	}
	require.NoError(t, manager.Put(context.Background(), key, "case-1.pdf", []byte("order")))
	_, err := manager.Close(context.Background(), key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/orders/2025/29/22/2900101", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var record archive.IndexRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, 1, record.FileCount)
	require.Equal(t, key, record.Key())
}

func TestServer_GetIndexRecord_NotFound(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/archives/orders/2025/29/22/9999999", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetIndexRecord_BadKey(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/orders/notayear/29/22/2900101", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/archives/parquet/2025/29/22/2900101", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetExists(t *testing.T) {
	t.Parallel()

	server, manager := newTestServer(t, config.Config{})
	key := archive.Key{
		Year: 2025, StateCode: "29", DistrictCode: "22", ComplexCode: "2900101",
		Type: archive.TypeMetadata,
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/archives/metadata/2025/29/22/2900101/exists", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"exists":false`)

	require.NoError(t, manager.Put(context.Background(), key, "m.json", []byte("{}")))
	_, err := manager.Close(context.Background(), key)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/archives/metadata/2025/29/22/2900101/exists", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"exists":true`)
}

func TestServer_GetChanges(t *testing.T) {
	t.Parallel()

	server, manager := newTestServer(t, config.Config{})
	key := archive.Key{
		Year: 2025, StateCode: "29", DistrictCode: "22", ComplexCode: "2900101",
		Type: archive.TypeOrders,
	}
	require.NoError(t, manager.Put(context.Background(), key, "case-1.pdf", []byte("x")))

	req := httptest.NewRequest(http.MethodGet, "/v1/changes", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "case-1.pdf")
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
