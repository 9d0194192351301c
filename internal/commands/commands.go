// Package commands registers the example command handlers exercised by the
// daemon's end-to-end test scenarios (SPEC_FULL.md §8): echo, fault,
// pending/hang, upload, and merge.
package commands

import (
	"log/slog"
	"sync"
	"time"

	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/middleware"
)

// Handles exposes test-only control knobs over the registered commands.
type Handles struct {
	hang *hangGate
}

// ReleaseHang unblocks any "hang" invocation currently parked, letting
// scenario 4's timeout test observe the pool return to N ready workers
// afterward.
func (h *Handles) ReleaseHang() { h.hang.Release() }

// RegisterAll registers every example command against d.
func RegisterAll(d *dispatch.Dispatcher, logger *slog.Logger) *Handles {
	if logger == nil {
		logger = slog.Default()
	}

	d.RegisterCommand("echo", middleware.NewCommandBuilder(echoHandler, logger))

	d.RegisterCommand("fault", middleware.NewCommandBuilder(faultHandler, logger))

	pending := newHangGate()
	d.RegisterCommand("pending", middleware.NewCommandBuilder(pendingHandler, logger))
	d.RegisterCommand("hang", middleware.NewCommandBuilder(pending.handler, logger))

	d.RegisterCommand("upload",
		middleware.NewCommandBuilder(uploadHandler, logger).
			HandleFifo("streamId", "pipe", middleware.FifoPut, true))

	d.RegisterCommand("merge",
		middleware.NewCommandBuilder(mergeHandler, logger).
			FlattenObj("opts"))

	return &Handles{hang: pending}
}

// echoHandler copies args["message"] to stdout_buf, matching scenario 1
// (happy path).
func echoHandler(ctx *middleware.Context) int {
	msg, ok := ctx.MutableArguments()["message"]
	if !ok {
		ctx.Errln("missing required argument: message")
		return 1
	}
	s, ok := msg.AsString()
	if !ok {
		ctx.Errln("message argument is not a string")
		return 1
	}
	ctx.SetOutputContent([]byte(quoteJSONString(s)))
	return 0
}

// faultHandler always panics, matching scenario 3 (handler fault is
// retried then discarded).
func faultHandler(ctx *middleware.Context) int {
	panic("injected fault for testing")
}

// pendingHandler returns immediately, used alongside the "hang" handler
// (hangGate.handler) in
// scenario 4 to show a normal reply racing ahead of a stuck sibling.
func pendingHandler(ctx *middleware.Context) int {
	ctx.SetOutputContent([]byte(`"ok"`))
	return 0
}

// hangGate lets tests release a deliberately stuck "hang" handler, modeling
// the busy-loop handler in scenario 4 without an actual infinite loop.
type hangGate struct {
	mu      sync.Mutex
	release chan struct{}
}

func newHangGate() *hangGate {
	return &hangGate{release: make(chan struct{})}
}

// Release unblocks every "hang" invocation currently waiting.
func (g *hangGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.release:
		// already released
	default:
		close(g.release)
	}
}

func (g *hangGate) handler(ctx *middleware.Context) int {
	g.mu.Lock()
	ch := g.release
	g.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(10 * time.Minute):
		// safety valve so a forgotten test never leaks forever
	}
	ctx.SetOutputContent([]byte(`"released"`))
	return 0
}

// uploadHandler represents a FIFO-upload command: it reports the content
// length of the uploaded stream, completing the deferred notification
// registered by handle_fifo (scenario 5).
func uploadHandler(ctx *middleware.Context) int {
	ctx.SetContentLen(1024)
	ctx.SetOutputContent([]byte(`"accepted"`))
	return 0
}

// mergeHandler expects args["a"] and args["b"] to have been split out of a
// flattened "opts" object (scenario 6).
func mergeHandler(ctx *middleware.Context) int {
	args := ctx.MutableArguments()
	a, hasA := args["a"]
	b, hasB := args["b"]
	if !hasA || !hasB {
		ctx.Errln("merge requires flattened args a and b")
		return 1
	}
	ctx.SetOutputContent([]byte(quoteJSONString(a.String() + "," + b.String())))
	return 0
}

func quoteJSONString(s string) string {
	// handlers hand back raw JSON text on stdout_buf; a bare scalar string
	// result is valid JSON once quoted.
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, string(r)...)
	}
	out = append(out, '"')
	return string(out)
}
