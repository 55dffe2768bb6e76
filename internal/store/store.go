package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a server definition does not exist.
var ErrNotFound = errors.New("server not found")

// ServerRecord is a persisted backend server definition. The pool itself is
// memoryless across restarts; only the management surface uses the store.
type ServerRecord struct {
	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EventRecord is one pool lifecycle event (spawn, exit, crash, terminate,
// crash_loop_refusal) kept for observability.
type EventRecord struct {
	ServerID   string    `json:"server_id"`
	Event      string    `json:"event"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store persists server definitions and lifecycle events.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertServer(ctx context.Context, rec ServerRecord) error
	GetServer(ctx context.Context, id string) (ServerRecord, error)
	ListServers(ctx context.Context) ([]ServerRecord, error)
	DeleteServer(ctx context.Context, id string) error
	RecordEvent(ctx context.Context, rec EventRecord) error
	Events(ctx context.Context, serverID string, limit int) ([]EventRecord, error)
	Close() error
}
