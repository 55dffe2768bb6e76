package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFakeDaemon(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /servers/{id}/rpc", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "ghost" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "server not configured: ghost"})
			return
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]string{"echo": req.Method},
		})
	})
	mux.HandleFunc("PUT /servers/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Command == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "command required"})
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /servers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ServerInfo{
			{ID: "calc", Source: "config", Status: Status{Running: true, PID: 42, Initialized: true}},
		})
	})
	mux.HandleFunc("GET /servers/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{Running: true, PID: 42})
	})
	mux.HandleFunc("GET /servers/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Event{{ServerID: r.PathValue("id"), Event: "spawn", PID: 42}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, New(Config{BaseURL: srv.URL})
}

func TestIsReachable(t *testing.T) {
	_, c := newFakeDaemon(t)
	require.True(t, c.IsReachable(context.Background()))

	down := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.False(t, down.IsReachable(context.Background()))
}

func TestSend(t *testing.T) {
	_, c := newFakeDaemon(t)
	resp, err := c.Send(context.Background(), "calc", 1, "tools/list", nil, 0)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.Contains(t, string(resp.Result), "tools/list")
}

func TestSendUnknownServer(t *testing.T) {
	_, c := newFakeDaemon(t)
	_, err := c.Send(context.Background(), "ghost", 1, "ping", nil, 0)
	require.ErrorContains(t, err, "server not configured")
}

func TestRegisterAndValidationError(t *testing.T) {
	_, c := newFakeDaemon(t)
	require.NoError(t, c.Register(context.Background(), "calc", RegisterRequest{Command: "/bin/calc"}))

	err := c.Register(context.Background(), "calc", RegisterRequest{})
	require.ErrorContains(t, err, "command required")
}

func TestServersAndStatus(t *testing.T) {
	_, c := newFakeDaemon(t)

	infos, err := c.Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "calc", infos[0].ID)
	require.True(t, infos[0].Status.Running)

	st, err := c.Status(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, 42, st.PID)
}

func TestEvents(t *testing.T) {
	_, c := newFakeDaemon(t)
	evs, err := c.Events(context.Background(), "calc", 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "spawn", evs[0].Event)
}
