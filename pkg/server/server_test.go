package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphkernel/pkg/config"
	"github.com/orneryd/graphkernel/pkg/graphdb"
)

type testServer struct {
	t  *testing.T
	s  *Server
	h  http.Handler
	db *graphdb.DB
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Adaptive = false
	db, err := graphdb.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, cfg.Server)
	require.NoError(t, err)
	return &testServer{t: t, s: s, h: s.Handler(), db: db}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func (ts *testServer) createNode(props map[string]any) NodeResponse {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/nodes", map[string]any{"properties": props})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[NodeResponse](ts.t, w)
}

func (ts *testServer) createType(name string) {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/relationship-types", map[string]any{"name": name})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
}

func (ts *testServer) createRelationship(start, end uint64, typ string) RelationshipResponse {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/relationships", map[string]any{
		"start": start, "end": end, "type": typ,
		"properties": map[string]any{"since": 2019},
	})
	require.Equal(ts.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[RelationshipResponse](ts.t, w)
}

func TestNew_RequiresDatabase(t *testing.T) {
	_, err := New(nil, config.ServerConfig{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
}

func TestNodes(t *testing.T) {
	ts := setupTestServer(t)

	n := ts.createNode(map[string]any{"name": "alice", "age": 30, "score": 1.5, "tags": []string{"a", "b"}})
	assert.NotZero(t, n.ID)
	assert.Equal(t, "alice", n.Properties["name"])

	t.Run("get", func(t *testing.T) {
		w := ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d", n.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[NodeResponse](t, w)
		assert.Equal(t, n.ID, got.ID)
		assert.Equal(t, "alice", got.Properties["name"])
		assert.EqualValues(t, 30, got.Properties["age"])
		assert.Equal(t, 1.5, got.Properties["score"])
		assert.Equal(t, []any{"a", "b"}, got.Properties["tags"])
	})

	t.Run("set_property", func(t *testing.T) {
		w := ts.do(http.MethodPut, fmt.Sprintf("/nodes/%d/properties/name", n.ID), map[string]any{"value": "alicia"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d", n.ID), nil)
		assert.Equal(t, "alicia", decode[NodeResponse](t, w).Properties["name"])
	})

	t.Run("remove_property", func(t *testing.T) {
		w := ts.do(http.MethodDelete, fmt.Sprintf("/nodes/%d/properties/score", n.ID), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 1.5, decode[map[string]any](t, w)["previous"])

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d", n.ID), nil)
		assert.NotContains(t, decode[NodeResponse](t, w).Properties, "score")
	})

	t.Run("delete", func(t *testing.T) {
		w := ts.do(http.MethodDelete, fmt.Sprintf("/nodes/%d", n.ID), nil)
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d", n.ID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRelationships(t *testing.T) {
	ts := setupTestServer(t)
	ts.createType("KNOWS")
	a := ts.createNode(map[string]any{"name": "alice"})
	b := ts.createNode(map[string]any{"name": "bob"})

	rel := ts.createRelationship(uint64(a.ID), uint64(b.ID), "KNOWS")
	assert.Equal(t, "KNOWS", rel.Type)
	assert.Equal(t, a.ID, rel.Start)
	assert.Equal(t, b.ID, rel.End)

	t.Run("get", func(t *testing.T) {
		w := ts.do(http.MethodGet, fmt.Sprintf("/relationships/%d", rel.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[RelationshipResponse](t, w)
		assert.EqualValues(t, 2019, got.Properties["since"])
	})

	t.Run("by_direction", func(t *testing.T) {
		w := ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d/relationships?direction=out&type=KNOWS", a.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]RelationshipResponse](t, w), 1)

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d/relationships?direction=in", a.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[[]RelationshipResponse](t, w))

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d/relationships?direction=sideways", a.ID), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("dangling_delete_conflicts", func(t *testing.T) {
		w := ts.do(http.MethodDelete, fmt.Sprintf("/nodes/%d", a.ID), nil)
		require.Equal(t, http.StatusConflict, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "DANGLING_RELATIONSHIP", body["violation"])

		w = ts.do(http.MethodGet, fmt.Sprintf("/nodes/%d", a.ID), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("delete_relationship_then_node", func(t *testing.T) {
		w := ts.do(http.MethodDelete, fmt.Sprintf("/relationships/%d", rel.ID), nil)
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

		w = ts.do(http.MethodDelete, fmt.Sprintf("/nodes/%d", a.ID), nil)
		assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	})
}

func TestErrors(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.createNode(nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"bad_id", http.MethodGet, "/nodes/abc", nil, http.StatusBadRequest},
		{"missing_node", http.MethodGet, "/nodes/999", nil, http.StatusNotFound},
		{"missing_relationship", http.MethodGet, "/relationships/999", nil, http.StatusNotFound},
		{"unknown_type", http.MethodPost, "/relationships",
			map[string]any{"start": a.ID, "end": a.ID, "type": "NOPE"}, http.StatusConflict},
		{"missing_endpoint", http.MethodPost, "/relationships",
			map[string]any{"start": a.ID, "end": 999, "type": "NOPE"}, http.StatusNotFound},
		{"null_value", http.MethodPut, fmt.Sprintf("/nodes/%d/properties/x", a.ID),
			map[string]any{"value": nil}, http.StatusBadRequest},
		{"mixed_array", http.MethodPost, "/nodes",
			map[string]any{"properties": map[string]any{"x": []any{1, "a"}}}, http.StatusBadRequest},
		{"empty_type_name", http.MethodPost, "/relationship-types",
			map[string]any{"name": ""}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if w.Code >= 400 {
				body := decode[map[string]any](t, w)
				assert.Equal(t, true, body["error"])
			}
		})
	}
}

func TestStatsAndLocks(t *testing.T) {
	ts := setupTestServer(t)
	ts.createNode(map[string]any{"name": "alice"})

	w := ts.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Server   ServerStats   `json:"server"`
		Database graphdb.Stats `json:"database"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Database.Counts.Nodes)
	assert.Equal(t, int64(1), stats.Database.Transactions.Committed)
	assert.GreaterOrEqual(t, stats.Server.RequestCount, int64(2))
	assert.Equal(t, uint64(1), stats.Database.Kernel.HighestIDs["node"])
	assert.Zero(t, stats.Database.Kernel.ReferenceNode)

	w = ts.do(http.MethodGet, "/locks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = ts.do(http.MethodGet, "/relationship-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestReferenceNode(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(http.MethodGet, "/reference-node", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(http.MethodPut, "/reference-node/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	root := ts.createNode(map[string]any{"name": "root"})
	w = ts.do(http.MethodPut, fmt.Sprintf("/reference-node/%d", root.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/reference-node", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[NodeResponse](t, w)
	assert.Equal(t, root.ID, got.ID)
	assert.Equal(t, "root", got.Properties["name"])

	w = ts.do(http.MethodPut, "/reference-node/0", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = ts.do(http.MethodGet, "/reference-node", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartStop(t *testing.T) {
	ts := setupTestServer(t)
	ts.s.config.Address = "127.0.0.1"
	ts.s.config.Port = 0

	require.NoError(t, ts.s.Start())
	addr := ts.s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.s.Stop(context.Background()))
	require.NoError(t, ts.s.Stop(context.Background()))
	assert.ErrorIs(t, ts.s.Start(), ErrServerClosed)
}
