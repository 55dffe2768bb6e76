// Package framer reassembles a subprocess's stdout byte stream into
// newline-delimited JSON-RPC messages and routes each response to the
// caller waiting on its correlation id.
package framer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/mcpgate/internal/jsonrpc"
)

// DefaultTimeout bounds a correlation when the caller does not supply one.
const DefaultTimeout = 30 * time.Second

// Outcome is the terminal result of one pending correlation: either the
// full response message or the error that settled it.
type Outcome struct {
	Response *jsonrpc.Message
	Err      error
}

type pending struct {
	id    string
	ch    chan Outcome
	timer *time.Timer
}

// ResponseBuffer owns the partial-line buffer and the pending-correlation
// map for exactly one subprocess output stream. Feed may race with Expect,
// Cancel, and timer expiry; the mutex covers both structures and is never
// held while delivering an outcome.
type ResponseBuffer struct {
	mu      sync.Mutex
	buf     []byte
	pending map[string]*pending
	logger  *slog.Logger
}

// New returns an empty ResponseBuffer. logger may be nil.
func New(logger *slog.Logger) *ResponseBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseBuffer{
		pending: make(map[string]*pending),
		logger:  logger,
	}
}

// Feed appends a raw chunk, splits off every complete line, and dispatches
// each one. Chunk boundaries are arbitrary: a frame may arrive one byte at
// a time or many frames in a single chunk. Malformed lines are logged and
// dropped; Feed never fails.
func (b *ResponseBuffer) Feed(p []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, b.buf[:i])
		b.buf = b.buf[i+1:]
		lines = append(lines, line)
	}
	b.mu.Unlock()

	for _, line := range lines {
		b.dispatch(line)
	}
}

func (b *ResponseBuffer) dispatch(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var msg jsonrpc.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		b.logger.Warn("dropping unparseable frame", "error", err, "frame", truncate(line))
		return
	}
	if msg.JSONRPC != jsonrpc.Version {
		b.logger.Warn("dropping frame with unsupported jsonrpc version", "version", msg.JSONRPC)
		return
	}
	if msg.ID == nil {
		// Server-initiated notification; the pool does not route these.
		b.logger.Debug("ignoring notification from server", "method", msg.Method)
		return
	}

	key := msg.ID.Key()
	b.mu.Lock()
	p, ok := b.pending[key]
	if ok {
		p.timer.Stop()
		delete(b.pending, key)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Warn("orphan response with no pending request", "id", msg.ID.String())
		return
	}
	p.ch <- Outcome{Response: &msg}
}

// Expect registers a pending correlation for id and returns the channel its
// outcome will be delivered on. The channel receives exactly one value. If
// id is already pending the registration fails immediately and the existing
// entry is untouched.
func (b *ResponseBuffer) Expect(id *jsonrpc.ID, timeout time.Duration) (<-chan Outcome, error) {
	if id == nil {
		return nil, &DuplicateIDError{ID: "(missing)"}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	key := id.Key()

	b.mu.Lock()
	if _, exists := b.pending[key]; exists {
		b.mu.Unlock()
		return nil, &DuplicateIDError{ID: id.String()}
	}
	p := &pending{id: id.String(), ch: make(chan Outcome, 1)}
	p.timer = time.AfterFunc(timeout, func() { b.expire(key, timeout) })
	b.pending[key] = p
	b.mu.Unlock()

	return p.ch, nil
}

func (b *ResponseBuffer) expire(key string, timeout time.Duration) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		// Settled before the timer fired.
		return
	}
	p.ch <- Outcome{Err: &TimeoutError{ID: p.id, Timeout: timeout}}
}

// WaitForResponse is the blocking form of Expect. Context cancellation
// aborts the correlation and surfaces the context error.
func (b *ResponseBuffer) WaitForResponse(ctx context.Context, id *jsonrpc.ID, timeout time.Duration) (*jsonrpc.Message, error) {
	ch, err := b.Expect(id, timeout)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		b.Cancel(id, "context canceled")
		return nil, ctx.Err()
	case o := <-ch:
		if o.Err != nil {
			return nil, o.Err
		}
		return o.Response, nil
	}
}

// Cancel aborts the pending correlation for id with the given reason.
// Unknown ids are a no-op.
func (b *ResponseBuffer) Cancel(id *jsonrpc.ID, reason string) {
	if id == nil {
		return
	}
	b.mu.Lock()
	p, ok := b.pending[id.Key()]
	if ok {
		p.timer.Stop()
		delete(b.pending, id.Key())
	}
	b.mu.Unlock()
	if ok {
		p.ch <- Outcome{Err: &CanceledError{ID: p.id, Reason: reason}}
	}
}

// CancelAll aborts every pending correlation with the same reason.
func (b *ResponseBuffer) CancelAll(reason string) {
	b.mu.Lock()
	ps := make([]*pending, 0, len(b.pending))
	for _, p := range b.pending {
		p.timer.Stop()
		ps = append(ps, p)
	}
	b.pending = make(map[string]*pending)
	b.mu.Unlock()

	for _, p := range ps {
		p.ch <- Outcome{Err: &CanceledError{ID: p.id, Reason: reason}}
	}
}

// Reset drops any buffered partial line and cancels all pending
// correlations. Called when the owning process is torn down so framer
// state never leaks into a future process instance.
func (b *ResponseBuffer) Reset() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
	b.CancelAll("buffer reset")
}

// PendingCount returns the number of outstanding correlations.
func (b *ResponseBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func truncate(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
