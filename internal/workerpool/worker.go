package workerpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/middleware"
	"github.com/zowe-sub/zowed/internal/rpcio"
)

// Worker is one goroutine, a bounded request queue, a state variable, and a
// heartbeat timestamp. It is the Go translation of the original's
// OS-thread-per-worker model (see SPEC_FULL.md §5).
type Worker struct {
	id   int
	pool *WorkerPool

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // UnixNano
	currentReq    atomic.Pointer[RequestMetadata]

	// detached is set by replaceWorker's timeout path instead of calling
	// Stop(); it tells a leaked goroutine that later finishes its stuck
	// call not to rejoin the ready set under a slot a new Worker now owns.
	detached atomic.Bool

	queue   chan RequestMetadata
	stopCh  chan struct{}
	done    chan struct{}
	stopOnce sync.Once
}

func newWorker(id int, pool *WorkerPool) *Worker {
	w := &Worker{
		id:     id,
		pool:   pool,
		queue:  make(chan RequestMetadata, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.state.Store(int32(StateStarting))
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Heartbeat returns the last heartbeat timestamp.
func (w *Worker) Heartbeat() time.Time { return time.Unix(0, w.lastHeartbeat.Load()) }

// CurrentRequest returns the in-flight request, or nil if idle/faulted-clean.
func (w *Worker) CurrentRequest() *RequestMetadata { return w.currentReq.Load() }

// enqueueRequest pushes metadata onto the worker's queue. Only called by the
// pool right after popping this worker's id from the ready set, so the
// worker is guaranteed to be Idle and not concurrently receiving other work.
func (w *Worker) enqueueRequest(meta RequestMetadata) {
	w.queue <- meta
}

// start launches the worker's goroutine.
func (w *Worker) start() {
	go w.loop()
}

// Stop requests a graceful stop and blocks until the goroutine has joined.
// Used on the fault-replacement and shutdown paths; never called on the
// timeout-detach path (see replaceWorker).
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Worker) loop() {
	w.setState(StateIdle)
	w.pool.onWorkerIdle(w.id)

	for {
		if w.State() == StateFaulted {
			<-w.stopCh
			w.setState(StateExited)
			close(w.done)
			return
		}

		select {
		case <-w.stopCh:
			w.setState(StateExited)
			close(w.done)
			return
		case req := <-w.queue:
			w.runRequest(req)
			if w.State() == StateFaulted {
				continue
			}
			if w.detached.Load() {
				// A replacement already claimed this slot while we were
				// stuck; do not rejoin the ready set under a stale id.
				continue
			}
			w.lastHeartbeat.Store(time.Now().UnixNano())
			w.setState(StateIdle)
			w.pool.onWorkerIdle(w.id)
		}
	}
}

func (w *Worker) runRequest(req RequestMetadata) {
	w.setState(StateRunning)
	w.lastHeartbeat.Store(time.Now().UnixNano())
	rc := req
	w.currentReq.Store(&rc)

	w.process(req)
}

func (w *Worker) process(req RequestMetadata) {
	parsed, err := rpcio.ParseRequest(req.RawJSON)
	if err != nil {
		w.pool.server.SendParseError(err.Error())
		w.currentReq.Store(nil)
		return
	}

	if !w.pool.dispatcher.HasCommand(parsed.Method) {
		w.pool.server.SendMethodNotFound(parsed.ID, parsed.Method)
		w.currentReq.Store(nil)
		return
	}

	args, err := rpcio.ParamsToArgMap(parsed.Params)
	if err != nil {
		w.pool.server.SendInvalidParams(parsed.ID, err.Error())
		w.currentReq.Store(nil)
		return
	}

	ctx := middleware.NewContext(parsed.Method, args, w.pool.server)
	status, result := w.pool.dispatcher.Dispatch(parsed.Method, ctx, w.pool.server)

	if status == dispatch.StatusFault {
		w.setState(StateFaulted)
		// current_request stays set; the pool's monitor recovers it.
		return
	}

	w.currentReq.Store(nil)
	if status == 0 {
		w.pool.server.SendResult(parsed.ID, result, ctx.LargeData())
		return
	}
	w.pool.server.SendHandlerError(parsed.ID, string(ctx.GetErrorContent()))
}
