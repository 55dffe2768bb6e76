package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "mcpgate")
}

func TestRootListsCommands(t *testing.T) {
	out, err := runCommand(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "send", "status", "list", "register", "unregister", "terminate", "events"} {
		require.Contains(t, out, sub)
	}
}

func TestSendRequiresMethod(t *testing.T) {
	_, err := runCommand(t, "send", "calc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "method")
}

func TestSendRequiresServerArg(t *testing.T) {
	_, err := runCommand(t, "send", "--method", "ping")
	require.Error(t, err)
}

func TestCommandsFailWithoutDaemon(t *testing.T) {
	_, err := runCommand(t, "status", "calc", "--api-url", "http://127.0.0.1:1", "--api-timeout", "200ms")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not reachable"))
}

func TestServeRejectsMissingConfig(t *testing.T) {
	_, err := runCommand(t, "serve", "--config", "/nonexistent/mcpgate.toml")
	require.Error(t, err)
}

func TestParseEnv(t *testing.T) {
	m, err := parseEnv([]string{"A=1", "B=x=y"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"A": "1", "B": "x=y"}, m)

	_, err = parseEnv([]string{"NOVALUE"})
	require.Error(t, err)

	m, err = parseEnv(nil)
	require.NoError(t, err)
	require.Nil(t, m)
}
