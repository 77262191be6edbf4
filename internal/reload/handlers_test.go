package reload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/reload/internal/event"
	"github.com/HerbHall/reload/internal/plugin"
	"github.com/HerbHall/reload/internal/server"
	"github.com/HerbHall/reload/internal/testutil"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer mounts a started reload plugin on a server the way the
// run command does.
func newTestServer(t *testing.T, root string, settings map[string]any) (*httptest.Server, *Plugin) {
	t.Helper()

	v := viper.New()
	for k, val := range settings {
		v.Set("plugins.reload."+k, val)
	}
	logger := testutil.Logger(t)
	p := New(WithIgnore(NewIgnoreSet(DefaultIgnoreNames...)))

	reg := plugin.NewRegistry(logger)
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.InitAll(v, testutil.NewHost(root)))
	require.NoError(t, reg.StartAll(context.Background()))
	t.Cleanup(reg.StopAll)

	srv := httptest.NewServer(server.New("", reg, nil, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, p
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandleTargets(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "lib/a.js", "lib/b.txt")
	srv, _ := newTestServer(t, root, nil)

	resp, err := http.Get(srv.URL + "/api/v1/reload/targets")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var targets []WatchTarget
	decode(t, resp, &targets)
	require.Len(t, targets, 1)
	assert.Equal(t, filepath.Join(root, "lib", "a.js"), targets[0].Path)
	assert.True(t, targets[0].ModTime.Equal(testutil.Base))
}

func TestHandleStatus(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "a.js")
	srv, _ := newTestServer(t, root, map[string]any{
		"interval": 250,
		"signal":   "SIGHUP",
	})

	resp, err := http.Get(srv.URL + "/api/v1/reload/status")
	require.NoError(t, err)

	var status statusResponse
	decode(t, resp, &status)
	assert.True(t, status.Running)
	assert.Equal(t, "SIGHUP", status.Signal)
	assert.Equal(t, int64(250), status.IntervalMs)
	assert.Equal(t, BackendPoll, status.Backend)
	assert.Equal(t, 1, status.Targets)
	assert.Equal(t, []string{root}, status.Roots)
	assert.Contains(t, status.Ignore, "node_modules")
	assert.NotEmpty(t, status.StartedAt)
}

func TestHandleIgnoreWithRescan(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "lib/a.js", "dist/b.js")
	srv, p := newTestServer(t, root, nil)
	require.Len(t, p.Targets(), 2)

	body := strings.NewReader(`{"names":["dist"],"rescan":true}`)
	resp, err := http.Post(srv.URL+"/api/v1/reload/ignore", "application/json", body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got rescanResponse
	decode(t, resp, &got)
	assert.Equal(t, rescanResponse{Added: 0, Removed: 1, Targets: 1}, got)
	assert.True(t, p.Ignore().Contains("dist"))
}

func TestHandleIgnoreWithoutRescan(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "dist/b.js")
	srv, p := newTestServer(t, root, nil)

	resp, err := http.Post(srv.URL+"/api/v1/reload/ignore", "application/json",
		strings.NewReader(`{"names":[" dist "]}`))
	require.NoError(t, err)

	var got map[string][]string
	decode(t, resp, &got)
	assert.Contains(t, got["ignore"], "dist")
	// Existing watches stay until the next rescan.
	assert.Len(t, p.Targets(), 1)
}

func TestHandleIgnoreRejectsBadInput(t *testing.T) {
	root := t.TempDir()
	srv, _ := newTestServer(t, root, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"no names", `{"names":[]}`},
		{"blank name", `{"names":[""]}`},
		{"path not basename", `{"names":["lib/vendor"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/reload/ignore", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

			var problem server.Problem
			decode(t, resp, &problem)
			assert.Equal(t, server.ProblemTypeBadRequest, problem.Type)
		})
	}
}

func TestHandleRescanAfterStop(t *testing.T) {
	root := t.TempDir()
	srv, p := newTestServer(t, root, nil)
	require.NoError(t, p.Stop())

	resp, err := http.Post(srv.URL+"/api/v1/reload/rescan", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var problem server.Problem
	decode(t, resp, &problem)
	assert.Equal(t, server.ProblemTypeNotRunning, problem.Type)
}

func TestHandleEventsStreamsRestarts(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "a.js")
	srv, _ := newTestServer(t, root, map[string]any{"interval": 10})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/reload/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered once the handler runs; give it a moment.
	time.Sleep(50 * time.Millisecond)
	testutil.Touch(t, filepath.Join(root, "a.js"), time.Minute)

	for {
		var e event.Event
		require.NoError(t, wsjson.Read(ctx, conn, &e))
		if e.Topic != TopicRestartRequested {
			continue
		}
		assert.Equal(t, "reload", e.Source)
		payload, ok := e.Payload.(map[string]any)
		require.True(t, ok, "payload = %T", e.Payload)
		assert.Equal(t, "SIGTERM", payload["signal"])
		assert.Equal(t, filepath.Join(root, "a.js"), payload["path"])
		return
	}
}

func TestServerListsReloadPlugin(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir(), nil)

	resp, err := http.Get(srv.URL + "/api/v1/plugins/reload")
	require.NoError(t, err)

	var info map[string]any
	decode(t, resp, &info)
	assert.Equal(t, "reload", info["name"])
	assert.Equal(t, true, info["enabled"])
}
