package workerpool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/rpcio"
)

// monitorTick is the supervision loop's polling period.
const monitorTick = 500 * time.Millisecond

// replacementBackoff is the minimum spacing between replacements of the
// same slot, avoiding a hot loop when a handler faults immediately on
// start.
const replacementBackoff = 100 * time.Millisecond

// WorkerPool supervises a fixed-size set of Workers: it distributes
// requests to the ready set, monitors for faults and stale heartbeats, and
// replaces misbehaving workers while recovering in-flight work.
type WorkerPool struct {
	dispatcher *dispatch.Dispatcher
	server     *rpcio.Server
	log        *slog.Logger
	timeout    time.Duration

	mu      sync.Mutex
	workers []*Worker

	ready *readySet

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	monitorStop  chan struct{}

	replaceMu    sync.Mutex
	lastReplaced map[int]time.Time
}

// New constructs a pool of n workers, spawns the monitor goroutine, and
// sends the one-shot ready notification. n must be > 0.
func New(n int, d *dispatch.Dispatcher, server *rpcio.Server, timeout time.Duration, checksums map[string]string, logger *slog.Logger) (*WorkerPool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("workerpool: num workers must be > 0, got %d", n)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &WorkerPool{
		dispatcher:   d,
		server:       server,
		log:          logger,
		timeout:      timeout,
		workers:      make([]*Worker, n),
		ready:        newReadySet(),
		monitorStop:  make(chan struct{}),
		lastReplaced: map[int]time.Time{},
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			w := newWorker(i, p)
			p.mu.Lock()
			p.workers[i] = w
			p.mu.Unlock()
			w.start()
			return nil
		})
	}
	_ = g.Wait() // worker init tasks never return an error

	go p.monitorLoop()

	p.server.SendReady(checksums)
	return p, nil
}

func (p *WorkerPool) onWorkerIdle(id int) { p.ready.push(id) }

// DistributeRequest wraps a raw JSON-RPC line into RequestMetadata and
// enqueues it. Discards with a log line if the pool is shutting down.
func (p *WorkerPool) DistributeRequest(raw []byte) {
	if p.shuttingDown.Load() {
		p.log.Warn("dropping request received during shutdown")
		return
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	p.enqueue(RequestMetadata{RawJSON: cp, RetryCount: 0, TraceID: uuid.NewString()})
}

func (p *WorkerPool) enqueue(meta RequestMetadata) {
	if meta.RetryCount > KMaxRequestRetries {
		id, _ := peekIDAndMethod(meta.RawJSON)
		p.log.Warn("poison pill: dropping request after exhausting retries", "id", id, "trace_id", meta.TraceID)
		p.server.SendPoisonPillError(id)
		return
	}

	id, ok := p.ready.popBlocking(p.shuttingDown.Load)
	if !ok {
		p.log.Warn("dropping request: pool is shutting down", "trace_id", meta.TraceID)
		return
	}

	p.mu.Lock()
	w := p.workers[id]
	p.mu.Unlock()
	w.enqueueRequest(meta)
}

func peekIDAndMethod(raw []byte) (int64, string) {
	var req rpcio.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return 0, ""
	}
	return req.ID, req.Method
}

func (p *WorkerPool) monitorLoop() {
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-p.monitorStop:
			return
		case <-ticker.C:
			if p.shuttingDown.Load() {
				return
			}
			p.tick()
		}
	}
}

func (p *WorkerPool) tick() {
	p.mu.Lock()
	snapshot := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	for _, w := range snapshot {
		switch {
		case w.State() == StateFaulted:
			p.maybeReplace(w.id, false)
		case w.State() == StateRunning && time.Since(w.Heartbeat()) > p.timeout:
			p.maybeReplace(w.id, true)
		}
	}
}

func (p *WorkerPool) maybeReplace(id int, forceDetach bool) {
	p.replaceMu.Lock()
	last, seen := p.lastReplaced[id]
	if seen && time.Since(last) < replacementBackoff {
		p.replaceMu.Unlock()
		return
	}
	p.lastReplaced[id] = time.Now()
	p.replaceMu.Unlock()

	p.replaceWorker(id, forceDetach)
}

// replaceWorker retires the worker occupying id, recovers its pending and
// (fault-path) in-flight work, and installs a fresh Worker in the same
// slot. See SPEC_FULL.md §4.6 for the exact drain/recover/detach/redistribute
// sequence this implements.
func (p *WorkerPool) replaceWorker(id int, forceDetach bool) {
	p.mu.Lock()
	old := p.workers[id]
	p.mu.Unlock()
	if old == nil {
		return
	}

	pending := drainQueue(old.queue)

	if cur := old.currentReq.Load(); cur != nil {
		if !forceDetach {
			recovered := *cur
			recovered.RetryCount++
			pending = append([]RequestMetadata{recovered}, pending...)
			p.log.Info("recovering in-flight request after fault", "worker", id, "trace_id", recovered.TraceID, "retry_count", recovered.RetryCount)
		} else {
			reqID, method := peekIDAndMethod(cur.RawJSON)
			p.log.Warn("worker timed out, not recovering in-flight request", "worker", id, "method", method, "trace_id", cur.TraceID)
			p.server.SendTimeoutError(reqID, method, p.timeout.Milliseconds())
		}
	}

	if forceDetach {
		old.detached.Store(true)
	} else {
		old.Stop()
	}

	fresh := newWorker(id, p)
	p.mu.Lock()
	p.workers[id] = fresh
	p.mu.Unlock()
	fresh.start()

	for _, meta := range pending {
		p.enqueue(meta)
	}
}

// drainQueue empties a worker's buffered channel without blocking.
func drainQueue(q chan RequestMetadata) []RequestMetadata {
	var out []RequestMetadata
	for {
		select {
		case meta := <-q:
			out = append(out, meta)
		default:
			return out
		}
	}
}

// Shutdown idempotently stops every non-detached worker and the monitor
// goroutine. Safe to call more than once; only the first call has effect.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		p.ready.wakeAll()

		p.mu.Lock()
		workers := append([]*Worker(nil), p.workers...)
		p.mu.Unlock()

		for _, w := range workers {
			if w != nil && !w.detached.Load() {
				w.Stop()
			}
		}
		close(p.monitorStop)
	})
}

// AvailableWorkersCount reports how many workers are currently Idle and
// eligible for dispatch.
func (p *WorkerPool) AvailableWorkersCount() int { return p.ready.len() }

// NumWorkers returns the pool's fixed worker count.
func (p *WorkerPool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
