// Package client talks to a running mcpgate daemon over its HTTP API. It
// covers both planes: forwarding JSON-RPC calls to backend servers and
// managing the server registry.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client is an HTTP client for the mcpgate daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS settings for the client connection.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file path
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns the configuration for a local daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8081",
		Timeout: 35 * time.Second,
	}
}

// New creates an mcpgate API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8081"
	}
	if config.Timeout == 0 {
		config.Timeout = 35 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable reports whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Send forwards one JSON-RPC request to the named backend and returns its
// response. timeout overrides the gateway's per-request default when > 0.
func (c *Client) Send(ctx context.Context, serverID string, id any, method string, params any, timeout time.Duration) (*RPCResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	u := c.baseURL + "/servers/" + url.PathEscape(serverID) + "/rpc"
	if timeout > 0 {
		u += "?timeout=" + url.QueryEscape(timeout.String())
	}
	data, err := c.doRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	var resp RPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Notify forwards a notification; the gateway acknowledges without a
// response body.
func (c *Client) Notify(ctx context.Context, serverID, method string, params any) error {
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPost, c.baseURL+"/servers/"+url.PathEscape(serverID)+"/rpc", body)
	return err
}

// Register persists a server definition in the gateway.
func (c *Client) Register(ctx context.Context, serverID string, req RegisterRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPut, c.baseURL+"/servers/"+url.PathEscape(serverID), body)
	return err
}

// Unregister removes the server's registration and stops its process.
func (c *Client) Unregister(ctx context.Context, serverID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, c.baseURL+"/servers/"+url.PathEscape(serverID), nil)
	return err
}

// Terminate stops the server's pooled process without touching its
// registration.
func (c *Client) Terminate(ctx context.Context, serverID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/servers/"+url.PathEscape(serverID)+"/terminate", nil)
	return err
}

// Status fetches the process state for one server.
func (c *Client) Status(ctx context.Context, serverID string) (Status, error) {
	var st Status
	data, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/servers/"+url.PathEscape(serverID)+"/status", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Servers lists every configured server with its status.
func (c *Client) Servers(ctx context.Context) ([]ServerInfo, error) {
	data, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		return nil, err
	}
	var infos []ServerInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("decode server list: %w", err)
	}
	return infos, nil
}

// Events fetches the most recent lifecycle events for a server.
func (c *Client) Events(ctx context.Context, serverID string, limit int) ([]Event, error) {
	u := c.baseURL + "/servers/" + url.PathEscape(serverID) + "/events"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var evs []Event
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return evs, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		caCert, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// doRequest performs one HTTP request and returns the response body for
// 2xx statuses; error payloads are decoded into a readable error.
func (c *Client) doRequest(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Error == "" {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", errResp.Error)
	return nil, fmt.Errorf("API error: %s", errResp.Error)
}
