// Package dispatch implements the command registry and dispatch loop:
// name -> (handler, builder) lookup, input-transform application, handler
// invocation with panic isolation, and output-transform application gated
// on handler success.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zowe-sub/zowed/internal/middleware"
)

// StatusNotFound is the negative sentinel returned when the method name is
// not registered.
const StatusNotFound = -1

// StatusFault is the negative sentinel returned when the handler panics.
const StatusFault = -2

type registration struct {
	builder *middleware.CommandBuilder
}

// Dispatcher is the command registry. It has no shared mutable state beyond
// the registry map itself, guarded by mu; contexts are goroutine-local.
type Dispatcher struct {
	mu      sync.RWMutex
	entries map[string]*registration
	log     *slog.Logger
}

// New constructs an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{entries: map[string]*registration{}, log: logger}
}

// RegisterCommand registers name -> builder. Returns false if name is
// empty, the builder's handler is nil, or name is already registered; it
// never replaces an existing registration.
func (d *Dispatcher) RegisterCommand(name string, builder *middleware.CommandBuilder) bool {
	if name == "" || builder == nil || builder.Handler() == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; exists {
		return false
	}
	d.entries[name] = &registration{builder: builder}
	return true
}

// HasCommand reports whether name is registered.
func (d *Dispatcher) HasCommand(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[name]
	return ok
}

// RegisteredCommands returns the sorted list of registered command names.
func (d *Dispatcher) RegisteredCommands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch looks up name, runs its input transforms, invokes the handler
// with panic isolation, and — only on success — runs its output transforms.
// It returns the handler's status and, when status == 0, the JSON-ready
// result value.
func (d *Dispatcher) Dispatch(name string, ctx *middleware.Context, sender middleware.NotificationSender) (status int, result any) {
	d.mu.RLock()
	entry, ok := d.entries[name]
	d.mu.RUnlock()
	if !ok {
		ctx.Errln("Command not found")
		return StatusNotFound, nil
	}

	entry.builder.ApplyInput(ctx, sender)

	status = d.invoke(entry.builder.Handler(), ctx)
	if status != 0 {
		return status, nil
	}

	return 0, d.buildResult(entry.builder, ctx)
}

func (d *Dispatcher) invoke(handler middleware.Handler, ctx *middleware.Context) (status int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("Command execution failed: %v", r)
			ctx.Errln(msg)
			d.log.Error(msg, "command", ctx.CommandPath)
			status = StatusFault
		}
	}()
	return handler(ctx)
}

// buildResult constructs the final JSON result value for a successful
// dispatch. The builder's output object starts empty; if output transforms
// leave it populated it is used directly, otherwise the result falls back
// to the parsed/raw/empty-object view of stdout_buf — reconciling the two
// output-shaping approaches found in the original implementation's builder
// and server revisions (see SPEC_FULL.md §3, result_object).
func (d *Dispatcher) buildResult(builder *middleware.CommandBuilder, ctx *middleware.Context) any {
	obj := builder.ApplyOutput(ctx, map[string]any{})
	if len(obj) > 0 {
		return obj
	}
	return parseStdoutFallback(ctx.GetOutputContent())
}

func parseStdoutFallback(output []byte) any {
	if len(output) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(output, &v); err == nil {
		return v
	}
	return string(output)
}
