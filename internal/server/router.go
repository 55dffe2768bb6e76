package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcpgate/internal/framer"
	"github.com/loykin/mcpgate/internal/gateway"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/pool"
	"github.com/loykin/mcpgate/internal/store"
)

// Router provides embeddable HTTP handlers for the gateway.
// Endpoints:
//   POST   {basePath}/servers/:id/rpc        body: JSON-RPC request
//   GET    {basePath}/servers                list servers with status
//   GET    {basePath}/servers/:id/status     process state for one server
//   GET    {basePath}/servers/:id/events     recent lifecycle events
//   PUT    {basePath}/servers/:id            register/update a server
//   DELETE {basePath}/servers/:id            unregister and terminate
//   POST   {basePath}/servers/:id/terminate  stop the pooled process
//   GET    /healthz
//   GET    /metrics
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	gw       *gateway.Gateway
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(gw *gateway.Gateway, basePath string) *Router {
	return &Router{gw: gw, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/servers/:id/rpc", r.handleRPC)
	group.GET("/servers", r.handleList)
	group.GET("/servers/:id/status", r.handleStatus)
	group.GET("/servers/:id/events", r.handleEvents)
	group.PUT("/servers/:id", r.handleRegister)
	group.DELETE("/servers/:id", r.handleUnregister)
	group.POST("/servers/:id/terminate", r.handleTerminate)
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, gw *gateway.Gateway) (*http.Server, error) {
	r := NewRouter(gw, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// handleRPC forwards the request body to the backend and relays its
// response verbatim. Backend-side JSON-RPC errors are still 200: they are
// valid protocol responses. Gateway-side failures map to 4xx/5xx.
func (r *Router) handleRPC(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	var req jsonrpc.Message
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON-RPC request: " + err.Error()})
		return
	}
	if req.Method == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "method required"})
		return
	}
	if req.ID == nil {
		// Notifications are accepted and forwarded without a response body.
		if err := r.gw.Notify(c.Request.Context(), id, req.Method, req.Params); err != nil {
			writeProxyError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
		return
	}

	timeout := time.Duration(0)
	if ts := c.Query("timeout"); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	resp, err := r.gw.Send(c.Request.Context(), id, &req, timeout)
	if err != nil {
		writeProxyError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

// writeProxyError maps gateway failures onto HTTP statuses: unknown server
// 404, crash loop 503, response timeout 504, everything else 502.
func writeProxyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownServer):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case pool.IsCrashLoop(err):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case framer.IsTimeout(err):
		writeJSON(c, http.StatusGatewayTimeout, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleList(c *gin.Context) {
	infos, err := r.gw.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, infos)
}

func (r *Router) handleStatus(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}
	writeJSON(c, http.StatusOK, r.gw.Status(id))
}

func (r *Router) handleEvents(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}
	limit := 0
	if ls := c.Query("limit"); ls != "" {
		if n, err := parseLimit(ls); err == nil {
			limit = n
		}
	}
	evs, err := r.gw.Events(c.Request.Context(), id, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, evs)
}

type registerBody struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

func (r *Router) handleRegister(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id: allowed [A-Za-z0-9._-], no '..' or path separators"})
		return
	}
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if body.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if !isSafeAbsPath(body.Cwd) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid cwd: must be absolute path without traversal"})
		return
	}
	err := r.gw.Register(c.Request.Context(), store.ServerRecord{
		ID:      id,
		Command: body.Command,
		Args:    body.Args,
		Env:     body.Env,
		Cwd:     body.Cwd,
	})
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUnregister(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}
	if err := r.gw.Unregister(c.Request.Context(), id); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTerminate(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid server id"})
		return
	}
	if err := r.gw.Terminate(id); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
