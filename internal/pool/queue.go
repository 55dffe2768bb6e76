package pool

import (
	"fmt"
	"time"

	"github.com/loykin/mcpgate/internal/jsonrpc"
	"github.com/loykin/mcpgate/internal/metrics"
)

// enqueue appends item to the process queue and starts the drain loop if
// one is not already running. Each process has at most one drain goroutine,
// which is what enforces strict FIFO with a single in-flight request.
func (pl *Pool) enqueue(p *Process, item *request) {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		item.deliver(nil, fmt.Errorf("server %s is terminating", p.serverID))
		return
	}
	p.queue = append(p.queue, item)
	start := !p.dispatching
	if start {
		p.dispatching = true
	}
	p.mu.Unlock()
	if start {
		go pl.drain(p)
	}
}

// requeueFront reinserts a retried request at the head of the queue so it
// keeps its original position relative to requests enqueued after it.
func (pl *Pool) requeueFront(p *Process, item *request) {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		item.deliver(nil, fmt.Errorf("server %s is terminating", p.serverID))
		return
	}
	p.queue = append([]*request{item}, p.queue...)
	start := !p.dispatching
	if start {
		p.dispatching = true
	}
	p.mu.Unlock()
	if start {
		go pl.drain(p)
	}
}

// drain pops requests one at a time. A request is dispatched, and only when
// its outcome is settled (response, non-retryable failure, or retries
// exhausted) does the next one go out.
func (pl *Pool) drain(p *Process) {
	for {
		p.mu.Lock()
		if p.stopping || len(p.queue) == 0 {
			p.dispatching = false
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.lastUsedAt = time.Now()
		p.mu.Unlock()

		pl.dispatchOne(p, item)
	}
}

func (pl *Pool) dispatchOne(p *Process, item *request) {
	start := time.Now()
	resp, err := pl.dispatch(p, item)
	if err == nil {
		pl.clearCrashes(p.serverID)
		metrics.IncRequest(p.serverID, "ok")
		metrics.ObserveRequestDuration(p.serverID, time.Since(start).Seconds())
		item.deliver(resp, nil)
		return
	}

	if retryable(err) && item.attempts < pl.opts.MaxRetries {
		item.attempts++
		metrics.IncRetry(p.serverID)
		pl.logger.Warn("request failed, retrying",
			"server", p.serverID,
			"method", item.msg.Method,
			"attempt", item.attempts,
			"error", err)
		time.Sleep(pl.opts.RetryDelay)

		// Get re-spawns the process if the failure killed it. The retried
		// request goes to the front of the (possibly new) queue.
		next, gerr := pl.Get(p.serverID, p.spec)
		if gerr == nil {
			pl.requeueFront(next, item)
			return
		}
		err = gerr
	}

	metrics.IncRequest(p.serverID, "error")
	item.deliver(nil, err)
}

func (pl *Pool) dispatch(p *Process, item *request) (*jsonrpc.Message, error) {
	if err := pl.ensureInitialized(p); err != nil {
		return nil, err
	}
	return p.roundTrip(item.msg, item.timeout)
}
