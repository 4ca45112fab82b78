package injector

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/behaviortree/internal/core/events/bus"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
	"github.com/zeusync/behaviortree/internal/server"
)

func TestInitializeAppRuns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "idle.json"),
		[]byte(`{"name": "idle", "root": "w", "nodes": [{"id": "w", "kind": "Wait"}]}`), 0o644))

	cfg := Config{Dir: dir, LogLevel: log.LevelSilent, Workers: 2, Server: server.DefaultServerConfig()}
	cfg.Server.ListenAddr = "127.0.0.1:0"
	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.Same(t, app.Registry, app.Library.Registry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		if app.Server.Addr() == "" {
			return false
		}
		resp, err := http.Get("http://" + app.Server.Addr() + "/api/trees/idle")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppStreamsAgentTicks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.json"),
		[]byte(`{"name": "ping", "root": "s", "nodes": [{"id": "s", "kind": "Success"}]}`), 0o644))

	cfg := Config{Dir: dir, LogLevel: log.LevelSilent, Workers: 1, Agents: true, Interval: 5 * time.Millisecond,
		Server: server.DefaultServerConfig()}
	cfg.Server.ListenAddr = "127.0.0.1:0"
	app, err := InitializeApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Server.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+app.Server.Addr()+"/ws?tree=ping", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev bus.Event
	for ev.Type != bus.TypeAgentTick {
		require.NoError(t, conn.ReadJSON(&ev))
	}
	require.Equal(t, "ping", ev.Tree)
	require.Equal(t, "Success", ev.Status)

	ag, ok := app.Pool.Get("ping")
	require.True(t, ok)
	require.Positive(t, ag.Memory().Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
