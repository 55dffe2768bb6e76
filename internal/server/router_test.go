package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcpgate/internal/gateway"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/pool"
	"github.com/loykin/mcpgate/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

const echoScript = `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  if [ -n "$id" ]; then
    idjson="\"$id\""
  else
    idjson=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9][0-9]*\).*/\1/p')
  fi
  method=$(printf '%s' "$line" | sed -n 's/.*"method":"\([^"]*\)".*/\1/p')
  if [ -z "$idjson" ]; then
    continue
  fi
  if [ "$method" = "initialize" ]; then
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"mock","version":"1.0"}}}\n' "$idjson"
  else
    printf '{"jsonrpc":"2.0","id":%s,"result":{"echo":"%s"}}\n' "$idjson" "$method"
  fi
done
`

func newTestHandler(t *testing.T) (http.Handler, *gateway.Gateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := sqlite.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema(t.Context()))

	gw := gateway.New(gateway.Options{
		Store: st,
		Pool:  pool.Options{StartupProbe: 50 * time.Millisecond, RetryDelay: 20 * time.Millisecond},
	})
	t.Cleanup(func() { _ = gw.Close() })

	script := filepath.Join(t.TempDir(), "echo_server.sh")
	require.NoError(t, os.WriteFile(script, []byte(echoScript), 0o755))
	gw.SetStatic("echo", pool.Spec{Command: script})

	return NewRouter(gw, "").Handler(), gw
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRPCHappyPath(t *testing.T) {
	h, _ := newTestHandler(t)

	req, err := jsonrpc.NewRequest(jsonrpc.NewID(int64(1)), "tools/list", nil)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/echo/rpc", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jsonrpc.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.Equal(t, req.ID.Key(), resp.ID.Key())
	require.Contains(t, string(resp.Result), "tools/list")
}

func TestRPCUnknownServerIs404(t *testing.T) {
	h, _ := newTestHandler(t)
	req, err := jsonrpc.NewRequest(jsonrpc.NewID(int64(1)), "ping", nil)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/ghost/rpc", req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRPCRejectsInvalidBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/servers/echo/rpc", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/servers/echo/rpc", map[string]any{"jsonrpc": "2.0", "id": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "method required")
}

func TestRPCRejectsUnsafeServerID(t *testing.T) {
	h, _ := newTestHandler(t)
	req, err := jsonrpc.NewRequest(jsonrpc.NewID(int64(1)), "ping", nil)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/bad..id/rpc", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCForwardsNotification(t *testing.T) {
	h, _ := newTestHandler(t)
	note, err := jsonrpc.NewNotification("notifications/progress", map[string]int{"progress": 50})
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/echo/rpc", note)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRegisterStatusListUnregister(t *testing.T) {
	h, gw := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPut, "/servers/dyn", registerBody{Command: "/bin/cat"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []gateway.ServerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)

	rec = doJSON(t, h, http.MethodGet, "/servers/dyn/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st pool.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.False(t, st.Running)

	rec = doJSON(t, h, http.MethodDelete, "/servers/dyn", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, gw.Has("dyn"))

	rec = doJSON(t, h, http.MethodGet, "/servers", nil)
	infos = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPut, "/servers/dyn", registerBody{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "command required")

	rec = doJSON(t, h, http.MethodPut, "/servers/dyn", registerBody{Command: "/bin/cat", Cwd: "relative/path"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid cwd")
}

func TestTerminateEndpoint(t *testing.T) {
	h, gw := newTestHandler(t)

	req, err := jsonrpc.NewRequest(jsonrpc.NewID(int64(1)), "ping", nil)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/echo/rpc", req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gw.Has("echo"))

	rec = doJSON(t, h, http.MethodPost, "/servers/echo/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, gw.Has("echo"))
}

func TestEventsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req, err := jsonrpc.NewRequest(jsonrpc.NewID(int64(1)), "ping", nil)
	require.NoError(t, err)
	rec := doJSON(t, h, http.MethodPost, "/servers/echo/rpc", req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(t, h, http.MethodGet, "/servers/echo/events?limit=10", nil)
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "spawn")
	}, 3*time.Second, 25*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSanitizeBase(t *testing.T) {
	require.Equal(t, "", sanitizeBase(""))
	require.Equal(t, "", sanitizeBase("/"))
	require.Equal(t, "/api", sanitizeBase("api"))
	require.Equal(t, "/api", sanitizeBase("/api/"))
}

func TestIsSafeName(t *testing.T) {
	require.True(t, isSafeName("calc-v1.2_x"))
	require.False(t, isSafeName(""))
	require.False(t, isSafeName("../etc"))
	require.False(t, isSafeName("a/b"))
	require.False(t, isSafeName("a b"))
}
