package middleware

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/zowe-sub/zowed/internal/config"
	"github.com/zowe-sub/zowed/internal/rpcio"
)

// Handler is the external-collaborator contract: read MutableArguments(),
// read/write the three byte buffers, optionally call SetContentLen and
// StoreLargeData, and return 0 for success. Any non-zero value suppresses
// output transforms.
type Handler func(ctx *Context) int

// FifoMode selects the direction of a handle_fifo transform.
type FifoMode int

const (
	// FifoGet: server reads from the command, client receives the stream.
	FifoGet FifoMode = iota
	// FifoPut: client sends the stream, server writes it to the command.
	FifoPut
)

type transformKind int

const (
	tRenameArg transformKind = iota
	tSetDefault
	tWriteStdin
	tReadStdout
	tFlattenObj
	tHandleFifo
)

type transform struct {
	kind transformKind

	argName   string
	renamedTo string // RenameArg
	def       rpcio.ArgValue
	base64    bool // WriteStdin, ReadStdout

	rpcIDArg string // HandleFifo
	fifoMode FifoMode
	deferred bool
}

// CommandBuilder is a fluent builder that captures a handler plus an
// ordered list of input/output ArgTransforms, applied around the handler by
// the Dispatcher.
type CommandBuilder struct {
	handler    Handler
	transforms []transform
	log        *slog.Logger
}

// NewCommandBuilder wraps handler for transform registration.
func NewCommandBuilder(handler Handler, logger *slog.Logger) *CommandBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandBuilder{handler: handler, log: logger}
}

// Handler returns the wrapped handler.
func (b *CommandBuilder) Handler() Handler { return b.handler }

// RenameArg moves args[from] to args[to] during the input phase.
func (b *CommandBuilder) RenameArg(from, to string) *CommandBuilder {
	b.transforms = append(b.transforms, transform{kind: tRenameArg, argName: from, renamedTo: to})
	return b
}

// SetDefault inserts value under name during the input phase if absent.
func (b *CommandBuilder) SetDefault(name string, value rpcio.ArgValue) *CommandBuilder {
	b.transforms = append(b.transforms, transform{kind: tSetDefault, argName: name, def: value})
	return b
}

// WriteStdin moves args[name] into stdin_buf during the input phase.
func (b *CommandBuilder) WriteStdin(name string, base64Decode bool) *CommandBuilder {
	b.transforms = append(b.transforms, transform{kind: tWriteStdin, argName: name, base64: base64Decode})
	return b
}

// ReadStdout places stdout_buf into the response object under name during
// the output phase.
func (b *CommandBuilder) ReadStdout(name string, base64Encode bool) *CommandBuilder {
	b.transforms = append(b.transforms, transform{kind: tReadStdout, argName: name, base64: base64Encode})
	return b
}

// FlattenObj parses args[name] as a JSON object and copies each primitive
// property into args under its own key during the input phase. Nested
// objects and arrays are not recursed into.
func (b *CommandBuilder) FlattenObj(name string) *CommandBuilder {
	b.transforms = append(b.transforms, transform{kind: tFlattenObj, argName: name})
	return b
}

// HandleFifo provisions a named pipe during the input phase and unlinks it
// during the output phase.
func (b *CommandBuilder) HandleFifo(rpcIDArg, fifoArg string, mode FifoMode, deferNotification bool) *CommandBuilder {
	b.transforms = append(b.transforms, transform{
		kind:     tHandleFifo,
		argName:  fifoArg,
		rpcIDArg: rpcIDArg,
		fifoMode: mode,
		deferred: deferNotification,
	})
	return b
}

// ApplyInput runs every input-phase transform, in registration order.
func (b *CommandBuilder) ApplyInput(ctx *Context, sender NotificationSender) {
	args := ctx.MutableArguments()
	for _, t := range b.transforms {
		switch t.kind {
		case tRenameArg:
			b.applyRenameArg(args, t)
		case tSetDefault:
			if _, exists := args[t.argName]; !exists {
				args[t.argName] = t.def
			}
		case tWriteStdin:
			b.applyWriteStdin(ctx, args, t)
		case tFlattenObj:
			b.applyFlattenObj(ctx, args, t)
		case tHandleFifo:
			b.applyHandleFifo(ctx, args, t, sender)
		}
	}
}

func (b *CommandBuilder) applyRenameArg(args rpcio.ArgMap, t transform) {
	v, ok := args[t.argName]
	if !ok {
		b.log.Warn("argument not found for rename transform, skipping", "arg", t.argName)
		return
	}
	delete(args, t.argName)
	args[t.renamedTo] = v
}

func (b *CommandBuilder) applyWriteStdin(ctx *Context, args rpcio.ArgMap, t transform) {
	v, ok := args[t.argName]
	if !ok {
		return
	}
	str, ok := v.AsString()
	if !ok {
		msg := fmt.Sprintf("Failed to process WriteStdin transform: argument %q is not a string", t.argName)
		ctx.Errln(msg)
		b.log.Error(msg)
		return
	}
	data := []byte(str)
	if t.base64 {
		decoded, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			msg := fmt.Sprintf("Failed to process WriteStdin transform: %v", err)
			ctx.Errln(msg)
			b.log.Error(msg)
			return
		}
		data = decoded
	}
	ctx.SetInputContent(data)
	delete(args, t.argName)
}

func (b *CommandBuilder) applyFlattenObj(ctx *Context, args rpcio.ArgMap, t transform) {
	v, ok := args[t.argName]
	if !ok {
		return
	}
	str, ok := v.AsString()
	if !ok {
		ctx.Errln("FlattenObj transform requires a JSON object")
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(str), &obj); err != nil {
		msg := fmt.Sprintf("Failed to parse JSON for FlattenObj transform: %v", err)
		ctx.Errln(msg)
		b.log.Error(msg)
		return
	}

	for key, raw := range obj {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			// Matches the documented non-recursion limit (see
			// SPEC_FULL.md §9): null properties are dropped, not
			// coerced to false.
			continue
		}
		var bv bool
		if json.Unmarshal(raw, &bv) == nil {
			args[key] = rpcio.BoolArg(bv)
			continue
		}
		var iv int64
		if json.Unmarshal(raw, &iv) == nil {
			args[key] = rpcio.Int64Arg(iv)
			continue
		}
		var dv float64
		if json.Unmarshal(raw, &dv) == nil {
			args[key] = rpcio.DoubleArg(dv)
			continue
		}
		var sv string
		if json.Unmarshal(raw, &sv) == nil {
			args[key] = rpcio.StringArg(sv)
			continue
		}
		// Nested object or array: dropped, matching the documented
		// non-recursion limit (see SPEC_FULL.md §9).
	}
	delete(args, t.argName)
}

// fifoPipePath builds the well-known FIFO transport path for a stream id.
func fifoPipePath(streamID int64) string {
	return filepath.Join(config.FifoDir(), fmt.Sprintf("zowe-native-proto_%d_%d_%d_fifo", os.Geteuid(), os.Getpid(), streamID))
}

func (b *CommandBuilder) applyHandleFifo(ctx *Context, args rpcio.ArgMap, t transform, sender NotificationSender) {
	rpcIDVal, ok := args[t.rpcIDArg]
	if !ok {
		return
	}
	streamID, ok := rpcIDVal.AsInt64()
	if !ok {
		msg := "HandleFifo: RPC ID argument is not an integer"
		ctx.Errln(msg)
		b.log.Error(msg)
		return
	}

	path := fifoPipePath(streamID)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		msg := fmt.Sprintf("Failed to delete existing FIFO pipe: %s: %v", path, err)
		ctx.Errln(msg)
		b.log.Error(msg)
		return
	}

	if err := syscall.Mkfifo(path, 0600); err != nil {
		msg := fmt.Sprintf("Failed to create FIFO pipe: %s: %v", path, err)
		ctx.Errln(msg)
		b.log.Error(msg)
		return
	}
	b.log.Debug("created FIFO pipe", "path", path)

	args[t.argName] = rpcio.StringArg(path)
	ctx.recordFifoPipe(t.argName, path)

	method := "sendStream"
	if t.fifoMode == FifoGet {
		method = "receiveStream"
	}
	notif := rpcio.Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  map[string]any{"id": streamID, "pipePath": path},
	}

	if t.deferred {
		ctx.notifMu.Lock()
		replacing := ctx.pendingNotif != nil
		ctx.notifMu.Unlock()
		if replacing {
			b.log.Warn("replacing an existing pending notification", "command", ctx.CommandPath)
		}
		ctx.SetPendingNotification(notif)
	} else if sender != nil {
		sender.SendNotification(notif)
	}
}

// ApplyOutput runs every output-phase transform, in registration order,
// against result (the builder-owned output object), and returns result (a
// new empty map if result was nil). A returned map with no fields tells the
// caller to fall back to parsing stdout_buf.
func (b *CommandBuilder) ApplyOutput(ctx *Context, result map[string]any) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	for _, t := range b.transforms {
		switch t.kind {
		case tReadStdout:
			b.applyReadStdout(ctx, result, t)
		case tHandleFifo:
			b.applyFifoCleanup(ctx, t)
		}
	}
	return result
}

func (b *CommandBuilder) applyReadStdout(ctx *Context, result map[string]any, t transform) {
	data := ctx.GetOutputContent()
	if t.base64 {
		result[t.argName] = base64.StdEncoding.EncodeToString(data)
		return
	}
	result[t.argName] = string(data)
}

func (b *CommandBuilder) applyFifoCleanup(ctx *Context, t transform) {
	path, ok := ctx.fifoPipe(t.argName)
	if !ok || path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.log.Error("failed to delete FIFO pipe", "path", path, "error", err)
		}
		return
	}
	b.log.Debug("cleaned up FIFO pipe", "path", path)
}
