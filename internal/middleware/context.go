// Package middleware implements the per-request I/O envelope
// (MiddlewareContext) and the CommandBuilder transform pipeline that wraps
// handlers with argument rename/default/flatten, stdin/stdout bridging, and
// FIFO stream provisioning.
package middleware

import (
	"sync"

	"github.com/zowe-sub/zowed/internal/rpcio"
)

// DefaultLargeDataThreshold is the large-payload size recorded on every new
// Context. StoreLargeData does not consult it: every payload stored through
// StoreLargeData bypasses inline JSON encoding, whatever its size.
const DefaultLargeDataThreshold = 16 * 1024 * 1024

// NotificationSender is the subset of rpcio.Server a Context needs to flush
// a deferred notification when SetContentLen first commits it.
type NotificationSender interface {
	SendNotification(rpcio.Notification)
}

// Context is the per-request envelope threaded through a command's
// middleware pipeline and handler. It is owned exclusively by the worker
// goroutine executing the request; no other goroutine touches it.
type Context struct {
	CommandPath string

	args rpcio.ArgMap

	stdinBuf  []byte
	stdoutBuf []byte
	stderrBuf []byte

	sender NotificationSender

	notifMu           sync.Mutex
	pendingNotif      *rpcio.Notification
	contentLenSet     bool
	contentLen        int64

	largeDataThreshold int
	largeData          map[string][]byte

	// fifoPipes records, per handle_fifo argument name, the pipe path
	// created during the input phase so the matching output-phase cleanup
	// can unlink it without mutating shared transform state (see DESIGN.md
	// for why this context-scoped map replaces the original's mutable
	// per-transform pipe_path field).
	fifoPipes map[string]string
}

// NewContext constructs a Context for one dispatch of commandPath.
func NewContext(commandPath string, args rpcio.ArgMap, sender NotificationSender) *Context {
	if args == nil {
		args = rpcio.ArgMap{}
	}
	return &Context{
		CommandPath:        commandPath,
		args:               args,
		sender:             sender,
		largeDataThreshold: DefaultLargeDataThreshold,
		fifoPipes:          map[string]string{},
	}
}

// MutableArguments returns the argument map; transforms and handlers mutate
// it in place.
func (c *Context) MutableArguments() rpcio.ArgMap { return c.args }

// SetInputContent replaces stdin_buf.
func (c *Context) SetInputContent(data []byte) { c.stdinBuf = data }

// InputContent returns stdin_buf.
func (c *Context) InputContent() []byte { return c.stdinBuf }

// SetOutputContent replaces stdout_buf.
func (c *Context) SetOutputContent(data []byte) { c.stdoutBuf = data }

// GetOutputContent returns a snapshot of stdout_buf.
func (c *Context) GetOutputContent() []byte { return c.stdoutBuf }

// Errln appends a line to stderr_buf, matching the original's errln helper
// used by transforms and handlers to report non-fatal diagnostics.
func (c *Context) Errln(msg string) {
	c.stderrBuf = append(c.stderrBuf, []byte(msg+"\n")...)
}

// GetErrorContent returns a snapshot of stderr_buf.
func (c *Context) GetErrorContent() []byte { return c.stderrBuf }

// SetPendingNotification stores exactly one deferred notification.
// Re-assignment drops the previous one; this is a programmer error and is
// never exercised by the shipped transforms, so it is merely logged by the
// caller rather than treated specially here.
func (c *Context) SetPendingNotification(n rpcio.Notification) {
	c.notifMu.Lock()
	defer c.notifMu.Unlock()
	c.pendingNotif = &n
}

// SetContentLen remembers n; if a pending notification exists it is
// completed by writing contentLen into its params and emitted exactly once.
// Subsequent calls overwrite n but emit nothing further.
func (c *Context) SetContentLen(n int64) {
	c.notifMu.Lock()
	defer c.notifMu.Unlock()
	c.contentLen = n
	c.contentLenSet = true
	if c.pendingNotif == nil {
		return
	}
	notif := *c.pendingNotif
	c.pendingNotif = nil
	if notif.Params == nil {
		notif.Params = map[string]any{}
	}
	notif.Params["contentLen"] = n
	if c.sender != nil {
		c.sender.SendNotification(notif)
	}
}

// StoreLargeData records an out-of-line payload keyed by output field name.
// Fields recorded here bypass inline JSON string encoding in the response
// serializer (see rpcio.Server.SendResult).
func (c *Context) StoreLargeData(field string, data []byte) {
	if c.largeData == nil {
		c.largeData = map[string][]byte{}
	}
	c.largeData[field] = data
}

// LargeData returns the accumulated out-of-line payload map.
func (c *Context) LargeData() map[string][]byte { return c.largeData }

// recordFifoPipe is called by the handle_fifo input transform so the
// matching output-phase transform can find the path to unlink.
func (c *Context) recordFifoPipe(argName, path string) {
	c.fifoPipes[argName] = path
}

func (c *Context) fifoPipe(argName string) (string, bool) {
	p, ok := c.fifoPipes[argName]
	return p, ok
}
