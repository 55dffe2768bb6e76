package mcpgate

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/mcpgate/internal/config"
	"github.com/loykin/mcpgate/internal/gateway"
	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/pool"
	iapi "github.com/loykin/mcpgate/internal/server"
	"github.com/loykin/mcpgate/internal/store"
	storefactory "github.com/loykin/mcpgate/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Spec = pool.Spec

type Status = pool.Status

type PoolOptions = pool.Options

type ExternalHandle = pool.ExternalHandle

type ServerRecord = store.ServerRecord

type ServerInfo = gateway.ServerInfo

type HistorySink = history.Sink

type Request = jsonrpc.Message

// NewID wraps a string or numeric value as a JSON-RPC request id.
func NewID(v any) *jsonrpc.ID { return jsonrpc.NewID(v) }

// NewRequest builds a JSON-RPC request; params may be nil or any
// json-marshalable value.
func NewRequest(id *jsonrpc.ID, method string, params any) (*Request, error) {
	return jsonrpc.NewRequest(id, method, params)
}

// Gateway is a thin facade over internal/gateway.Gateway. It provides a
// stable public API for embedding the MCP gateway in another program.
type Gateway struct{ inner *gateway.Gateway }

// Options configures an embedded gateway.
type Options struct {
	Pool PoolOptions
	// StoreDSN selects the registry store: "sqlite://path", "postgres://..."
	// or a bare filesystem path (sqlite). Empty runs without persistence.
	StoreDSN string
	// Sinks receive process lifecycle events.
	Sinks []HistorySink
}

// New builds a gateway. With the zero Options it serves statically added
// servers from memory.
func New(opts Options) (*Gateway, error) {
	var st store.Store
	if opts.StoreDSN != "" {
		var err error
		st, err = storefactory.NewFromDSN(opts.StoreDSN)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(context.Background()); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	opts.Pool.Sinks = append(opts.Pool.Sinks, opts.Sinks...)
	return &Gateway{inner: gateway.New(gateway.Options{Pool: opts.Pool, Store: st})}, nil
}

// AddServer registers a static server definition for this gateway instance.
func (g *Gateway) AddServer(id string, spec Spec) { g.inner.SetStatic(id, spec) }

// ApplyConfig replaces the static server set wholesale.
func (g *Gateway) ApplyConfig(specs map[string]Spec) { g.inner.ApplyConfig(specs) }

// Send proxies one JSON-RPC request to the named backend, spawning and
// initializing its process on demand. timeout <= 0 uses the pool default.
func (g *Gateway) Send(ctx context.Context, serverID string, req *Request, timeout time.Duration) (*Request, error) {
	return g.inner.Send(ctx, serverID, req, timeout)
}

// Call is a convenience wrapper around Send that builds the request.
func (g *Gateway) Call(ctx context.Context, serverID string, id *jsonrpc.ID, method string, params any) (*Request, error) {
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	return g.inner.Send(ctx, serverID, req, 0)
}

// Notify sends a fire-and-forget notification.
func (g *Gateway) Notify(ctx context.Context, serverID, method string, params any) error {
	return g.inner.Notify(ctx, serverID, method, params)
}

// Register persists a server definition in the configured store.
func (g *Gateway) Register(ctx context.Context, rec ServerRecord) error {
	return g.inner.Register(ctx, rec)
}

// Unregister stops the server and removes its store record.
func (g *Gateway) Unregister(ctx context.Context, serverID string) error {
	return g.inner.Unregister(ctx, serverID)
}

// Terminate stops the server's pooled process.
func (g *Gateway) Terminate(serverID string) error { return g.inner.Terminate(serverID) }

// Status reports the process state for one server.
func (g *Gateway) Status(serverID string) Status { return g.inner.Status(serverID) }

// Servers lists all known servers with their process status.
func (g *Gateway) Servers(ctx context.Context) ([]ServerInfo, error) { return g.inner.List(ctx) }

// RegisterExternal adopts an externally supervised process for serverID.
// The gateway correlates traffic over the handle's pipes but never signals
// the process.
func (g *Gateway) RegisterExternal(serverID string, h ExternalHandle) error {
	_, err := g.inner.Pool().RegisterExternal(serverID, h, Spec{})
	return err
}

// Close terminates all pooled processes and releases the store.
func (g *Gateway) Close() error { return g.inner.Close() }

// LoadConfig reads a TOML daemon configuration file.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts the management/proxy HTTP API on addr using the
// given gateway.
func NewHTTPServer(addr, basePath string, g *Gateway) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, g.inner)
}

// HTTPHandler returns the gateway API as an http.Handler for mounting in an
// existing server or mux.
func HTTPHandler(basePath string, g *Gateway) http.Handler {
	return iapi.NewRouter(g.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
