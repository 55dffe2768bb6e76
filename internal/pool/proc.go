package pool

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/mcpgate/internal/framer"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/metrics"
)

// Process is one live stdio backend: the child process (or an adopted
// external one), its stdin writer, and the response correlation buffer fed
// from its stdout. All mutable state is guarded by mu.
type Process struct {
	serverID string
	spec     Spec
	external bool
	hasWait  bool

	cmd   *exec.Cmd // nil for external processes
	pid   int
	stdin io.WriteCloser
	frame *framer.ResponseBuffer
	log   *slog.Logger

	stderrLog io.WriteCloser // rotating stderr capture, may be nil

	mu           sync.Mutex
	initialized  bool
	initializing bool
	queue        []*request
	dispatching  bool
	stopping     bool
	lastUsedAt   time.Time
	exitErr      error

	exitOnce sync.Once
	exited   chan struct{}
}

// request is one queued client request awaiting dispatch. The result channel
// is buffered so delivery never blocks the drain loop.
type request struct {
	msg      *jsonrpc.Message
	timeout  time.Duration
	attempts int
	result   chan requestResult
	enqueued time.Time
}

type requestResult struct {
	resp *jsonrpc.Message
	err  error
}

func (r *request) deliver(resp *jsonrpc.Message, err error) {
	select {
	case r.result <- requestResult{resp: resp, err: err}:
	default:
	}
}

// ServerID returns the pool key this process serves.
func (p *Process) ServerID() string { return p.serverID }

// PID returns the operating system process id.
func (p *Process) PID() int { return p.pid }

// External reports whether the process lifecycle is owned by an outside
// supervisor rather than the pool.
func (p *Process) External() bool { return p.external }

// Alive reports whether the process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Initialized reports whether the MCP handshake has completed.
func (p *Process) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// PendingCount returns the number of in-flight correlated requests.
func (p *Process) PendingCount() int { return p.frame.PendingCount() }

func (p *Process) isStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *Process) usable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopping && p.Alive()
}

func (p *Process) touch() {
	p.mu.Lock()
	p.lastUsedAt = time.Now()
	p.mu.Unlock()
}

func (p *Process) lastUsed() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsedAt
}

func (p *Process) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// markStopping flags the process as shutting down and takes ownership of
// the queued requests so the caller can reject them.
func (p *Process) markStopping() []*request {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopping = true
	items := p.queue
	p.queue = nil
	return items
}

// takeQueue empties the dispatch queue, returning the pending items.
func (p *Process) takeQueue() []*request {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.queue
	p.queue = nil
	return items
}

// writeMessage encodes msg with a trailing newline and writes it to the
// backend's stdin as a single Write call.
func (p *Process) writeMessage(msg *jsonrpc.Message) error {
	if p.stdin == nil {
		return fmt.Errorf("stdin not available for %s", p.serverID)
	}
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("stdin write failed for %s: %w", p.serverID, err)
	}
	return nil
}

// roundTrip registers the request id with the correlation buffer, writes the
// request, and blocks until the response arrives, the timeout fires, or the
// registration is canceled.
func (p *Process) roundTrip(msg *jsonrpc.Message, timeout time.Duration) (*jsonrpc.Message, error) {
	ch, err := p.frame.Expect(msg.ID, timeout)
	if err != nil {
		return nil, err
	}
	metrics.SetPendingRequests(p.serverID, p.frame.PendingCount())
	if err := p.writeMessage(msg); err != nil {
		p.frame.Cancel(msg.ID, "write failed")
		return nil, err
	}
	out := <-ch
	metrics.SetPendingRequests(p.serverID, p.frame.PendingCount())
	return out.Response, out.Err
}

// readStdout feeds backend stdout into the correlation buffer until the
// stream closes.
func (p *Process) readStdout(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.frame.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// forwardStderr drains backend stderr. Stdout belongs to the protocol
// stream, so only stderr is ever captured to a file.
func (p *Process) forwardStderr(r io.Reader) {
	if p.stderrLog != nil {
		_, _ = io.Copy(p.stderrLog, r)
		return
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		p.log.Debug("backend stderr", "line", sc.Text())
	}
}

func (p *Process) closeResources() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.stderrLog != nil {
		_ = p.stderrLog.Close()
	}
}
