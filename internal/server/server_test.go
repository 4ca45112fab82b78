package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
	"github.com/zeusync/behaviortree/internal/library"
)

const patrolJSON = `{
  "name": "patrol",
  "root": "root",
  "nodes": [
    {"id": "root", "kind": "Selector", "children": ["seq", "idle"]},
    {"id": "seq", "kind": "Sequence", "children": ["ok"]},
    {"id": "ok", "kind": "Success"},
    {"id": "idle", "kind": "Wait"}
  ]
}`

func newTestServer(t *testing.T, config Config) (*Server, bus.EventBus) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.json"), []byte(patrolJSON), 0o644))
	lib := library.New(dir, library.WithLogger(log.Nop()))
	require.NoError(t, lib.LoadAll())
	eb := bus.New()
	return NewServer(config, lib, nil, eb, log.Nop()), eb
}

func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestKinds(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())
	h := s.Handler()

	var menu []bt.KindInfo
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/kinds", &menu))
	require.Len(t, menu, len(bt.Default().Menu()))

	var hits []bt.KindInfo
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/kinds?search=seq", &hits))
	require.NotEmpty(t, hits)
	require.Equal(t, "Sequence", hits[0].Kind)
	require.Equal(t, "composite", hits[0].Category)
}

func TestTrees(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())
	h := s.Handler()

	var list []TreeSummary
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/trees", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "patrol", list[0].Name)
	assert.Equal(t, bt.NodeID("root"), list[0].Root)
	assert.Equal(t, 4, list[0].Nodes)
	assert.NotEmpty(t, list[0].Fingerprint)

	var asset bt.Asset
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/trees/patrol", &asset))
	require.Equal(t, "patrol", asset.Name)
	require.Len(t, asset.Nodes, 4)

	var desc []NodeSummary
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/trees/patrol/nodes/root/descendants", &desc))
	require.Equal(t, []NodeSummary{
		{ID: "seq", Kind: "Sequence", Title: "Sequence", Category: "composite", Depth: 1},
		{ID: "ok", Kind: "Success", Title: "Success", Category: "action", Depth: 2},
		{ID: "idle", Kind: "Wait", Title: "Wait", Category: "action", Depth: 1},
	}, desc)

	var e map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/trees/ghost", &e))
	require.Equal(t, ErrTreeNotFound.Error(), e["error"])
	require.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/trees/patrol/nodes/ghost/descendants", &e))
	require.Equal(t, ErrNodeNotFound.Error(), e["error"])

	var stats Stats
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/stats", &stats))
	require.Equal(t, 1, stats.Trees)
	require.False(t, stats.Running)
}

func TestTokenAuth(t *testing.T) {
	config := DefaultServerConfig()
	config.Token = "supersecrettoken"
	s, _ := newTestServer(t, config)
	h := s.Handler()

	require.Equal(t, http.StatusUnauthorized, getJSON(t, h, "/api/trees", nil))
	require.Equal(t, http.StatusUnauthorized, getJSON(t, h, "/api/trees?token=invalid", nil))
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/trees?token=supersecrettoken", nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/kinds", nil)
	req.Header.Set("Authorization", "Bearer supersecrettoken")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketStream(t *testing.T) {
	s, eb := newTestServer(t, DefaultServerConfig())
	sub, err := eb.Subscribe(bus.All, s.hub.broadcast)
	require.NoError(t, err)
	defer sub.Cancel()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	all := dial(t, srv, "")
	guard := dial(t, srv, "?tree=guard")
	require.Eventually(t, func() bool { return s.hub.len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, eb.Publish(bus.Event{Type: bus.TypeAgentTick, Source: "a1", Tree: "patrol", Tick: 1, Status: "Running"}))
	require.NoError(t, eb.Publish(bus.Event{Type: bus.TypeAgentTick, Source: "a2", Tree: "guard", Tick: 7, Status: "Success"}))

	read := func(conn *websocket.Conn) bus.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var e bus.Event
		require.NoError(t, conn.ReadJSON(&e))
		return e
	}
	first := read(all)
	require.Equal(t, "a1", first.Source)
	require.Equal(t, uint64(1), first.Tick)
	require.Equal(t, "a2", read(all).Source)
	require.Equal(t, uint64(7), read(guard).Tick)

	require.NoError(t, guard.Close())
	require.Eventually(t, func() bool { return s.hub.len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClientLimit(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxClients = 1
	s, _ := newTestServer(t, config)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dial(t, srv, "")
	require.Eventually(t, func() bool { return s.hub.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	extra := dial(t, srv, "")
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), err)
}

func TestStartStop(t *testing.T) {
	config := DefaultServerConfig()
	config.ListenAddr = "127.0.0.1:0"
	s, eb := newTestServer(t, config)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), ErrServerAlreadyRunning)
	require.Equal(t, 1, eb.Subscribers(bus.All))
	require.True(t, s.GetStats().Running)

	resp, err := http.Get("http://" + s.Addr() + "/api/trees")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.Stop(ctx), ErrServerNotRunning)
	require.Zero(t, eb.Subscribers(bus.All))

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Start(ctx), ErrServerClosed)
}

func TestInvalidConfig(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	require.ErrorIs(t, s.Start(context.Background()), ErrInvalidConfig)
}
