package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/mcpgate/internal/framer"
	"github.com/loykin/mcpgate/internal/history"
	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/metrics"
)

// Pool manages one stdio backend process per server id. Processes are
// spawned lazily on first use and reused across requests. Concurrent
// requests for a missing process share a single spawn; repeated crashes
// trip a breaker that refuses respawns for a cooldown window.
type Pool struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	procs   map[string]*Process
	spawns  map[string]*spawnFuture
	crashes map[string]*crashStat
	closed  bool
}

type spawnFuture struct {
	done chan struct{}
	proc *Process
	err  error
}

type crashStat struct {
	count  int
	lastAt time.Time
}

// New builds a pool with defaults applied for any zero option.
func New(opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		opts:    opts,
		logger:  opts.Logger,
		procs:   make(map[string]*Process),
		spawns:  make(map[string]*spawnFuture),
		crashes: make(map[string]*crashStat),
	}
}

// Get returns the live process for serverID, spawning one if needed.
// Concurrent callers during a spawn all wait on the same attempt and share
// its outcome.
func (pl *Pool) Get(serverID string, spec Spec) (*Process, error) {
	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return nil, errors.New("pool is shut down")
	}
	if proc, ok := pl.procs[serverID]; ok {
		if proc.usable() {
			pl.mu.Unlock()
			proc.touch()
			return proc, nil
		}
		// Dead entry the exit handler has not swept yet.
		delete(pl.procs, serverID)
	}
	if sf, ok := pl.spawns[serverID]; ok {
		pl.mu.Unlock()
		<-sf.done
		if sf.err != nil {
			return nil, sf.err
		}
		return sf.proc, nil
	}
	if cs, ok := pl.crashes[serverID]; ok {
		if time.Since(cs.lastAt) >= pl.opts.CrashWindow {
			delete(pl.crashes, serverID)
		} else if cs.count >= pl.opts.MaxCrashes {
			count := cs.count
			pl.mu.Unlock()
			metrics.IncCrashLoopRefusal(serverID)
			pl.emit(history.Event{
				ServerID:   serverID,
				Type:       history.EventCrashLoopRefusal,
				Detail:     fmt.Sprintf("%d crashes within %s", count, pl.opts.CrashWindow),
				OccurredAt: time.Now(),
			})
			return nil, &CrashLoopError{ServerID: serverID, Crashes: count, Window: pl.opts.CrashWindow}
		}
	}

	sf := &spawnFuture{done: make(chan struct{})}
	pl.spawns[serverID] = sf
	pl.mu.Unlock()

	proc, err := pl.spawn(serverID, spec)
	if err == nil && !proc.Alive() {
		err = fmt.Errorf("process exited during startup: %v", proc.exitError())
		proc = nil
	}

	pl.mu.Lock()
	delete(pl.spawns, serverID)
	if err != nil {
		pl.noteCrashLocked(serverID, err)
	} else {
		pl.procs[serverID] = proc
	}
	n := len(pl.procs)
	pl.mu.Unlock()
	metrics.SetPooledProcesses(n)

	sf.proc, sf.err = proc, err
	close(sf.done)
	return proc, err
}

// spawn starts the child and its stream goroutines, then watches it briefly
// for an immediate exit so obviously broken commands fail the caller instead
// of the first request.
func (pl *Pool) spawn(serverID string, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("server %s has no command configured", serverID)
	}
	cmd := spec.buildCmd()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stderrLog io.WriteCloser
	if spec.Log.Enabled() {
		if stderrLog, err = spec.Log.Writer(serverID); err != nil {
			return nil, fmt.Errorf("stderr log: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		if stderrLog != nil {
			_ = stderrLog.Close()
		}
		return nil, fmt.Errorf("spawn %s: %w", serverID, err)
	}

	log := pl.logger.With("server", serverID, "pid", cmd.Process.Pid)
	proc := &Process{
		serverID:  serverID,
		spec:      spec,
		hasWait:   true,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		stdin:     stdin,
		frame:     framer.New(log),
		log:       log,
		stderrLog: stderrLog,
		exited:    make(chan struct{}),
	}

	go proc.readStdout(stdout)
	go proc.forwardStderr(stderr)
	go func() {
		werr := cmd.Wait()
		pl.finishExit(proc, werr)
	}()

	select {
	case <-proc.exited:
		// finishExit already ran; Get turns this into a spawn failure.
	case <-time.After(pl.opts.StartupProbe):
	}

	metrics.IncSpawn(serverID)
	pl.emit(history.Event{
		ServerID:   serverID,
		Type:       history.EventSpawn,
		PID:        proc.pid,
		OccurredAt: time.Now(),
	})
	log.Info("spawned backend", "command", spec.Command)
	return proc, nil
}

// RegisterExternal adopts an already-running process. The pool correlates
// requests over the provided pipes and treats stream closure (or Wait
// returning) as process exit, but it never signals the process: termination
// is the owning supervisor's job.
func (pl *Pool) RegisterExternal(serverID string, h ExternalHandle, spec Spec) (*Process, error) {
	if h.Stdin == nil || h.Stdout == nil {
		return nil, errors.New("external handle requires stdin and stdout")
	}
	pl.mu.Lock()
	if pl.closed {
		pl.mu.Unlock()
		return nil, errors.New("pool is shut down")
	}
	if existing, ok := pl.procs[serverID]; ok && existing.usable() {
		pl.mu.Unlock()
		return nil, fmt.Errorf("server %s already has a live process", serverID)
	}

	log := pl.logger.With("server", serverID, "pid", h.PID, "external", true)
	proc := &Process{
		serverID: serverID,
		spec:     spec,
		external: true,
		hasWait:  h.Wait != nil,
		pid:      h.PID,
		stdin:    h.Stdin,
		frame:    framer.New(log),
		log:      log,
		exited:   make(chan struct{}),
	}
	pl.procs[serverID] = proc
	n := len(pl.procs)
	pl.mu.Unlock()
	metrics.SetPooledProcesses(n)

	go func() {
		proc.readStdout(h.Stdout)
		if !proc.hasWait {
			pl.finishExit(proc, errors.New("stdout closed"))
		}
	}()
	if h.Stderr != nil {
		go proc.forwardStderr(h.Stderr)
	}
	if h.Wait != nil {
		go func() {
			werr := h.Wait()
			pl.finishExit(proc, werr)
		}()
	}
	log.Info("registered external backend")
	return proc, nil
}

// ExternalHandle carries the plumbing for a process owned by an outside
// supervisor. Wait is optional; without it stdout EOF stands in for exit.
type ExternalHandle struct {
	PID    int
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Wait   func() error
}

// finishExit runs exactly once per process: records the exit, removes the
// pool entry, fails everything in flight, and counts the crash when the
// exit was not requested.
func (pl *Pool) finishExit(proc *Process, exitErr error) {
	proc.exitOnce.Do(func() {
		proc.mu.Lock()
		proc.exitErr = exitErr
		proc.mu.Unlock()
		close(proc.exited)

		stopping := proc.isStopping()

		pl.mu.Lock()
		registered := pl.procs[proc.serverID] == proc
		if registered {
			delete(pl.procs, proc.serverID)
		}
		if registered && !stopping {
			pl.noteCrashLocked(proc.serverID, exitErr)
		}
		n := len(pl.procs)
		pl.mu.Unlock()
		metrics.SetPooledProcesses(n)

		reason := "process exited unexpectedly"
		if stopping {
			reason = "terminating"
		}
		proc.frame.CancelAll(reason)
		for _, item := range proc.takeQueue() {
			item.deliver(nil, fmt.Errorf("server %s: %s", proc.serverID, reason))
		}
		proc.closeResources()

		if stopping {
			detail := ""
			if exitErr != nil {
				detail = exitErr.Error()
			}
			pl.emit(history.Event{
				ServerID:   proc.serverID,
				Type:       history.EventExit,
				PID:        proc.pid,
				Detail:     detail,
				OccurredAt: time.Now(),
			})
		} else {
			proc.log.Warn("backend exited unexpectedly", "error", exitErr)
		}
	})
}

// noteCrashLocked records one crash for the breaker. Counts older than the
// window start a fresh run. Caller holds pl.mu.
func (pl *Pool) noteCrashLocked(serverID string, cause error) {
	cs := pl.crashes[serverID]
	now := time.Now()
	if cs == nil || now.Sub(cs.lastAt) >= pl.opts.CrashWindow {
		cs = &crashStat{}
		pl.crashes[serverID] = cs
	}
	cs.count++
	cs.lastAt = now
	metrics.IncCrash(serverID)
	pl.emit(history.Event{
		ServerID:   serverID,
		Type:       history.EventCrash,
		Detail:     fmt.Sprint(cause),
		OccurredAt: now,
	})
}

// clearCrashes resets the breaker after a successful round trip.
func (pl *Pool) clearCrashes(serverID string) {
	pl.mu.Lock()
	delete(pl.crashes, serverID)
	pl.mu.Unlock()
}

// SendRequest proxies one JSON-RPC request to the backend for serverID,
// spawning and initializing the process as needed. Requests for the same
// backend are answered strictly in enqueue order. The request must carry an
// id; notifications have no response to correlate.
func (pl *Pool) SendRequest(ctx context.Context, serverID string, spec Spec, req *jsonrpc.Message, timeout time.Duration) (*jsonrpc.Message, error) {
	if req == nil || req.ID == nil {
		return nil, errors.New("request id is required for response correlation")
	}
	if req.JSONRPC == "" {
		req.JSONRPC = jsonrpc.Version
	}
	if timeout <= 0 {
		timeout = pl.opts.RequestTimeout
	}

	proc, err := pl.Get(serverID, spec)
	if err != nil {
		return nil, err
	}

	item := &request{
		msg:      req,
		timeout:  timeout,
		result:   make(chan requestResult, 1),
		enqueued: time.Now(),
	}
	pl.enqueue(proc, item)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-item.result:
		return r.resp, r.err
	}
}

// SendNotification writes a fire-and-forget notification to the backend.
// Pass json.RawMessage for pre-encoded params.
func (pl *Pool) SendNotification(serverID string, spec Spec, method string, params any) error {
	proc, err := pl.Get(serverID, spec)
	if err != nil {
		return err
	}
	if err := pl.ensureInitialized(proc); err != nil {
		return err
	}
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return proc.writeMessage(note)
}

// Terminate stops the process for serverID. Pool-owned processes get
// SIGTERM to the process group, then SIGKILL after the grace period.
// External processes are only detached: pending work is canceled and the
// pipes released, but signaling is left to the owning supervisor.
func (pl *Pool) Terminate(serverID string) error {
	pl.mu.Lock()
	proc, ok := pl.procs[serverID]
	if ok {
		delete(pl.procs, serverID)
	}
	n := len(pl.procs)
	pl.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.SetPooledProcesses(n)

	for _, item := range proc.markStopping() {
		item.deliver(nil, fmt.Errorf("server %s is terminating", serverID))
	}
	proc.frame.CancelAll("terminating")

	pl.emit(history.Event{
		ServerID:   serverID,
		Type:       history.EventTerminate,
		PID:        proc.pid,
		OccurredAt: time.Now(),
	})

	if proc.external {
		proc.closeResources()
		pl.logger.Info("detached external backend", "server", serverID)
		return nil
	}

	if proc.Alive() {
		_ = syscall.Kill(-proc.pid, syscall.SIGTERM)
		select {
		case <-proc.exited:
		case <-time.After(pl.opts.GracePeriod):
			pl.logger.Warn("grace period elapsed, killing backend", "server", serverID, "pid", proc.pid)
			_ = syscall.Kill(-proc.pid, syscall.SIGKILL)
			<-proc.exited
		}
	}
	proc.closeResources()
	pl.logger.Info("terminated backend", "server", serverID, "pid", proc.pid)
	return nil
}

// TerminateAll stops every pooled process and reports the first errors
// joined together.
func (pl *Pool) TerminateAll() error {
	pl.mu.Lock()
	ids := make([]string, 0, len(pl.procs))
	for id := range pl.procs {
		ids = append(ids, id)
	}
	pl.mu.Unlock()
	sort.Strings(ids)

	var wg sync.WaitGroup
	errCh := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := pl.Terminate(id); err != nil {
				errCh <- fmt.Errorf("terminate %s: %w", id, err)
			}
		}(id)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Shutdown terminates everything and refuses further use of the pool.
func (pl *Pool) Shutdown() error {
	pl.mu.Lock()
	pl.closed = true
	pl.mu.Unlock()
	return pl.TerminateAll()
}

// Has reports whether serverID currently maps to a live process.
func (pl *Pool) Has(serverID string) bool {
	pl.mu.Lock()
	proc, ok := pl.procs[serverID]
	pl.mu.Unlock()
	return ok && proc.usable()
}

// Status returns the observable state for serverID.
func (pl *Pool) Status(serverID string) Status {
	pl.mu.Lock()
	proc, ok := pl.procs[serverID]
	pl.mu.Unlock()
	if !ok {
		return Status{}
	}
	return Status{
		Running:     proc.Alive(),
		PID:         proc.pid,
		Initialized: proc.Initialized(),
		LastUsed:    proc.lastUsed(),
	}
}

// List returns the server ids with a pooled process, sorted.
func (pl *Pool) List() []string {
	pl.mu.Lock()
	ids := make([]string, 0, len(pl.procs))
	for id := range pl.procs {
		ids = append(ids, id)
	}
	pl.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// emit fans an event out to the configured sinks without blocking callers.
func (pl *Pool) emit(e history.Event) {
	for _, s := range pl.opts.Sinks {
		go func(s history.Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				pl.logger.Warn("history sink send failed", "error", err)
			}
		}(s)
	}
}
