package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jizhuozhi/hermes/gateway/internal/config"
	"github.com/jizhuozhi/hermes/gateway/internal/routing"
	"github.com/jizhuozhi/hermes/gateway/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snap      *config.Snapshot
	reloadErr error
	reloaded  bool
}

func (f *fakeSource) Snapshot() *config.Snapshot { return f.snap }
func (f *fakeSource) Start(ctx context.Context) error {
	f.reloaded = true
	return f.reloadErr
}

func buildSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	b := routing.NewBuilder()
	require.NoError(t, b.Insert(&routing.Route{Method: "GET", Pattern: "/api/*", Cluster: "backend", StripPrefix: "/api"}))

	c := upstream.NewCluster("backend", upstream.RoundRobin,
		[]*upstream.Instance{upstream.NewInstance("i1", "127.0.0.1", 9000, 1)}, upstream.PoolConfig{})

	return &config.Snapshot{Trie: b.Build(), Clusters: map[string]*upstream.Cluster{"backend": c}, Revision: 1}
}

func TestListRoutesAndClusters(t *testing.T) {
	src := &fakeSource{snap: buildSnapshot(t)}
	a := New(src)

	routes := a.ListRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, "backend", routes[0].Cluster)

	clusters := a.ListClusters()
	require.Len(t, clusters, 1)
	assert.Equal(t, 1, clusters[0].InstanceCount)
	assert.Equal(t, 1, clusters[0].HealthyCount)
}

func TestInstanceSnapshotUnknownCluster(t *testing.T) {
	src := &fakeSource{snap: buildSnapshot(t)}
	a := New(src)
	_, ok := a.InstanceSnapshot("nope")
	assert.False(t, ok)
}

func TestHandlerRoutesReadyAndReload(t *testing.T) {
	src := &fakeSource{snap: buildSnapshot(t)}
	a := New(src)
	h := NewHandler(a)
	mux := h.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.SetReady(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/routes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["routes"], 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, src.reloaded)
}
