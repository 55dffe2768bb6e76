package mcpgate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func writeEchoServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echo_server.sh")
	require.NoError(t, os.WriteFile(path, []byte(echoScript), 0o755))
	return path
}

func TestGatewayEndToEnd(t *testing.T) {
	gw, err := New(Options{
		StoreDSN: filepath.Join(t.TempDir(), "mcpgate.db"),
		Pool:     PoolOptions{StartupProbe: 50 * time.Millisecond, RetryDelay: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	defer func() { _ = gw.Close() }()

	gw.AddServer("echo", Spec{Command: writeEchoServer(t)})

	ctx := context.Background()
	resp, err := gw.Call(ctx, "echo", NewID(int64(1)), "tools/list", nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "tools/list", result["echo"])

	st := gw.Status("echo")
	require.True(t, st.Running)
	require.True(t, st.Initialized)

	infos, err := gw.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "echo", infos[0].ID)

	require.NoError(t, gw.Terminate("echo"))
	require.False(t, gw.Status("echo").Running)
}

func TestGatewayDynamicRegistration(t *testing.T) {
	gw, err := New(Options{StoreDSN: filepath.Join(t.TempDir(), "mcpgate.db")})
	require.NoError(t, err)
	defer func() { _ = gw.Close() }()

	ctx := context.Background()
	require.NoError(t, gw.Register(ctx, ServerRecord{ID: "dyn", Command: writeEchoServer(t)}))

	resp, err := gw.Call(ctx, "dyn", NewID("req-1"), "resources/list", nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	require.NoError(t, gw.Unregister(ctx, "dyn"))
	_, err = gw.Call(ctx, "dyn", NewID("req-2"), "resources/list", nil)
	require.Error(t, err)
}

func TestGatewayWithoutStore(t *testing.T) {
	gw, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = gw.Close() }()

	ctx := context.Background()
	_, err = gw.Call(ctx, "nobody", NewID(int64(1)), "ping", nil)
	require.Error(t, err)

	err = gw.Register(ctx, ServerRecord{ID: "x", Command: "/bin/true"})
	require.ErrorContains(t, err, "no store configured")
}
