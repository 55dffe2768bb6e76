package client

import (
	"encoding/json"
	"time"
)

// RegisterRequest defines a backend server to persist in the gateway.
type RegisterRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// Status mirrors the gateway's per-server process state.
type Status struct {
	Running     bool `json:"running"`
	PID         int  `json:"pid,omitempty"`
	Initialized bool `json:"initialized,omitempty"`
}

// ServerInfo is one entry of the server listing.
type ServerInfo struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Status Status `json:"status"`
}

// Event is one lifecycle event recorded for a server.
type Event struct {
	ServerID   string    `json:"server_id"`
	Event      string    `json:"event"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCResponse is a JSON-RPC response relayed from a backend server.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// ErrorResponse is the gateway's error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
