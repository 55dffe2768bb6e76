package pool

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/mcp"
)

// ensureInitialized runs the MCP initialize handshake exactly once per
// process. The first dispatched request triggers it; later requests see the
// initialized flag and skip straight to dispatch. Because the drain loop is
// the only dispatcher per process, concurrent handshakes cannot happen in
// normal operation, but the initializing guard keeps direct callers honest.
func (pl *Pool) ensureInitialized(p *Process) error {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	if p.initializing {
		p.mu.Unlock()
		return ErrHandshakeInProgress
	}
	p.initializing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.initializing = false
		p.mu.Unlock()
	}()

	id := jsonrpc.NewID("init-" + uuid.NewString())
	req, err := jsonrpc.NewRequest(id, mcp.MethodInitialize, mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo: mcp.ClientInfo{
			Name:    pl.opts.ClientName,
			Version: pl.opts.ClientVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("build initialize request: %w", err)
	}
	resp, err := p.roundTrip(req, pl.opts.RequestTimeout)
	if err != nil {
		return fmt.Errorf("initialize handshake for %s: %w", p.serverID, err)
	}
	if resp.Error != nil {
		return &HandshakeError{ServerID: p.serverID, RPCErr: resp.Error}
	}

	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		pl.logger.Warn("initialize result did not parse", "server", p.serverID, "error", err)
	} else {
		pl.logger.Info("backend initialized",
			"server", p.serverID,
			"backend_name", res.ServerInfo.Name,
			"backend_version", res.ServerInfo.Version,
			"protocol", res.ProtocolVersion)
	}

	// The notifications/initialized ack completes the handshake. Without it
	// many servers refuse regular traffic.
	note, err := jsonrpc.NewNotification(mcp.MethodInitialized, nil)
	if err != nil {
		return err
	}
	if err := p.writeMessage(note); err != nil {
		return err
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}
