package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/pool"
	"github.com/loykin/mcpgate/internal/store"
)

// ErrUnknownServer is returned for requests naming a server id that is
// neither statically configured nor registered in the store.
var ErrUnknownServer = errors.New("server not configured")

// Options configures a gateway.
type Options struct {
	Pool pool.Options
	// Store persists dynamically registered servers and lifecycle events.
	// Optional; without it only statically configured servers are served.
	Store store.Store
	// DefaultLog applies to servers whose spec carries no log settings.
	DefaultLog logger.Config
}

// Gateway is the orchestration layer: it resolves server ids to launch
// specs, owns the process pool, and persists registrations and lifecycle
// history. Both the HTTP API and the embeddable facade sit on top of it.
type Gateway struct {
	pool  *pool.Pool
	store store.Store
	dlog  logger.Config

	mu     sync.Mutex
	static map[string]pool.Spec
}

// ServerInfo is one entry of List: where the server came from and what its
// process is doing right now.
type ServerInfo struct {
	ID     string      `json:"id"`
	Source string      `json:"source"` // "config" or "store"
	Status pool.Status `json:"status"`
}

func New(opts Options) *Gateway {
	if opts.Store != nil {
		opts.Pool.Sinks = append(opts.Pool.Sinks, history.StoreSink{St: opts.Store})
	}
	return &Gateway{
		pool:   pool.New(opts.Pool),
		store:  opts.Store,
		dlog:   opts.DefaultLog,
		static: make(map[string]pool.Spec),
	}
}

// Pool exposes the underlying process pool for advanced embedding, such as
// adopting externally supervised processes.
func (g *Gateway) Pool() *pool.Pool { return g.pool }

// SetStatic registers a config-file server. Static entries shadow store
// entries with the same id.
func (g *Gateway) SetStatic(id string, spec pool.Spec) {
	g.mu.Lock()
	g.static[id] = g.withDefaultLog(spec)
	g.mu.Unlock()
}

// ApplyConfig replaces the static server set wholesale.
func (g *Gateway) ApplyConfig(specs map[string]pool.Spec) {
	g.mu.Lock()
	g.static = make(map[string]pool.Spec, len(specs))
	for id, s := range specs {
		g.static[id] = g.withDefaultLog(s)
	}
	g.mu.Unlock()
}

func (g *Gateway) withDefaultLog(s pool.Spec) pool.Spec {
	if !s.Log.Enabled() {
		s.Log = g.dlog
	}
	return s
}

// ResolveSpec maps a server id to its launch spec, consulting static
// config first and the store second.
func (g *Gateway) ResolveSpec(ctx context.Context, id string) (pool.Spec, error) {
	g.mu.Lock()
	spec, ok := g.static[id]
	g.mu.Unlock()
	if ok {
		return spec, nil
	}
	if g.store == nil {
		return pool.Spec{}, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	rec, err := g.store.GetServer(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pool.Spec{}, fmt.Errorf("%w: %s", ErrUnknownServer, id)
		}
		return pool.Spec{}, err
	}
	return g.withDefaultLog(pool.Spec{
		Command: rec.Command,
		Args:    rec.Args,
		Env:     rec.Env,
		Cwd:     rec.Cwd,
	}), nil
}

// Send proxies one JSON-RPC request to the named server, spawning its
// process on demand.
func (g *Gateway) Send(ctx context.Context, id string, req *jsonrpc.Message, timeout time.Duration) (*jsonrpc.Message, error) {
	spec, err := g.ResolveSpec(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.pool.SendRequest(ctx, id, spec, req, timeout)
}

// Notify sends a fire-and-forget notification to the named server.
func (g *Gateway) Notify(ctx context.Context, id, method string, params any) error {
	spec, err := g.ResolveSpec(ctx, id)
	if err != nil {
		return err
	}
	return g.pool.SendNotification(id, spec, method, params)
}

// Register persists a server definition in the store so it survives
// restarts. It does not spawn the process; that happens on first request.
func (g *Gateway) Register(ctx context.Context, rec store.ServerRecord) error {
	if g.store == nil {
		return errors.New("no store configured, cannot register servers dynamically")
	}
	if rec.ID == "" || rec.Command == "" {
		return errors.New("server registration requires id and command")
	}
	return g.store.UpsertServer(ctx, rec)
}

// Unregister terminates the server's process and removes its store record.
func (g *Gateway) Unregister(ctx context.Context, id string) error {
	if err := g.pool.Terminate(id); err != nil {
		return err
	}
	if g.store == nil {
		return nil
	}
	if err := g.store.DeleteServer(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Terminate stops the server's pooled process without touching its
// registration.
func (g *Gateway) Terminate(id string) error { return g.pool.Terminate(id) }

// Status reports the process state for one server id.
func (g *Gateway) Status(id string) pool.Status { return g.pool.Status(id) }

// Has reports whether the server currently has a live pooled process.
func (g *Gateway) Has(id string) bool { return g.pool.Has(id) }

// List returns every known server with its current process status. Static
// entries shadow store records with the same id.
func (g *Gateway) List(ctx context.Context) ([]ServerInfo, error) {
	seen := make(map[string]string)
	g.mu.Lock()
	for id := range g.static {
		seen[id] = "config"
	}
	g.mu.Unlock()

	if g.store != nil {
		recs, err := g.store.ListServers(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if _, ok := seen[rec.ID]; !ok {
				seen[rec.ID] = "store"
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]ServerInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, ServerInfo{ID: id, Source: seen[id], Status: g.pool.Status(id)})
	}
	return infos, nil
}

// Events returns the most recent lifecycle events for a server, newest
// first.
func (g *Gateway) Events(ctx context.Context, id string, limit int) ([]store.EventRecord, error) {
	if g.store == nil {
		return nil, errors.New("no store configured")
	}
	return g.store.Events(ctx, id, limit)
}

// Close shuts the pool down and closes the store.
func (g *Gateway) Close() error {
	errPool := g.pool.Shutdown()
	var errStore error
	if g.store != nil {
		errStore = g.store.Close()
	}
	return errors.Join(errPool, errStore)
}
