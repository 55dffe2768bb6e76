package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcpgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen = ":9090"
base_path = "/api"
store = "sqlite:///tmp/mcpgate.db"

[log]
level = "debug"
color = true

[server_log]
dir = "/var/log/mcpgate"
max_size_mb = 20

[pool]
request_timeout = "10s"
max_retries = 2
retry_delay = "500ms"
max_crashes = 5
crash_window = "2m"
grace_period = "3s"
startup_probe = "100ms"
client_name = "edge-gw"

[history]
dsn = "clickhouse://localhost:9000?table=mcpgate_events"

[[servers]]
id = "calc"
command = "/usr/local/bin/calc-server"
args = ["--verbose"]
cwd = "/tmp"

[servers.env]
API_KEY = "secret"

[[servers]]
id = "files"
command = "/usr/local/bin/file-server"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "/api", cfg.BasePath)
	require.Equal(t, "sqlite:///tmp/mcpgate.db", cfg.Store)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.Color)
	require.Equal(t, "/var/log/mcpgate", cfg.ServerLog.Dir)
	require.Equal(t, "clickhouse://localhost:9000?table=mcpgate_events", cfg.History.DSN)

	opts := cfg.PoolOptions()
	require.Equal(t, 10*time.Second, opts.RequestTimeout)
	require.Equal(t, 2, opts.MaxRetries)
	require.Equal(t, 500*time.Millisecond, opts.RetryDelay)
	require.Equal(t, 5, opts.MaxCrashes)
	require.Equal(t, 2*time.Minute, opts.CrashWindow)
	require.Equal(t, 3*time.Second, opts.GracePeriod)
	require.Equal(t, 100*time.Millisecond, opts.StartupProbe)
	require.Equal(t, "edge-gw", opts.ClientName)

	specs := cfg.Specs()
	require.Len(t, specs, 2)
	require.Equal(t, "/usr/local/bin/calc-server", specs["calc"].Command)
	require.Equal(t, []string{"--verbose"}, specs["calc"].Args)
	require.Equal(t, "secret", specs["calc"].Env["API_KEY"])
	require.Equal(t, "/tmp", specs["calc"].Cwd)
}

func TestLoadDefaultsListen(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[[servers]]
id = "a"
command = "/bin/a"
`))
	require.NoError(t, err)
	require.Equal(t, ":8081", cfg.Listen)
}

func TestLoadRejectsMissingID(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[servers]]
command = "/bin/a"
`))
	require.ErrorContains(t, err, "id required")
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[servers]]
id = "a"
`))
	require.ErrorContains(t, err, "command required")
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[servers]]
id = "a"
command = "/bin/a"

[[servers]]
id = "a"
command = "/bin/b"
`))
	require.ErrorContains(t, err, "duplicate server id")
}

func TestLoadRejectsUnsafeID(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[servers]]
id = "../evil"
command = "/bin/a"
`))
	require.ErrorContains(t, err, "invalid id")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
