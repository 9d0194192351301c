package rpcio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// compressionThreshold is the minimum payload size gzip is worth paying for;
// below this, the deflate overhead tends to exceed the savings.
const compressionThreshold = 4 * 1024

// largeFieldPlaceholder is spliced out of the marshaled skeleton and
// replaced with the raw base64 payload, avoiding a second escaping pass by
// encoding/json over payloads that may be many megabytes. Chosen to be a
// string that json.Marshal will never itself emit.
const largeFieldPlaceholder = "\x00zowed-large-data:%s\x00"

// Server serializes every response and notification written to stdout under
// a single mutex, matching RpcServer's responseMutex contract: stdout must
// always be valid line-delimited JSON even with multiple workers writing
// concurrently.
type Server struct {
	out      io.Writer
	mu       sync.Mutex
	log      *slog.Logger
	compress bool
}

// NewServer constructs a Server writing framed JSON-RPC messages to out.
func NewServer(out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{out: out, log: logger}
}

// SetCompressStreams toggles gzip compression of large out-of-line payloads
// (see StoreLargeData) above compressionThreshold, matching the
// --compress-streams CLI flag.
func (s *Server) SetCompressStreams(enabled bool) { s.compress = enabled }

// ParseRequest parses a raw input line as a Request. Returns an error
// suitable for wrapping into a -32700 response on failure.
func ParseRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("failed to parse command request: %w", err)
	}
	return req, nil
}

// SendParseError emits a -32700 response with id 0, used when the raw line
// could not be parsed as a Request at all.
func (s *Server) SendParseError(detail string) {
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      0,
		Error:   &ErrorDetail{Code: CodeParseError, Message: "Failed to parse command request: " + detail},
	})
}

// SendMethodNotFound emits a -32601 response for the given request id.
func (s *Server) SendMethodNotFound(id int64, method string) {
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: CodeMethodNotFound, Message: "Unrecognized command " + method},
	})
}

// SendInvalidParams emits a -32602 response when params is present but not
// convertible to an argument map.
func (s *Server) SendInvalidParams(id int64, detail string) {
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: CodeInvalidParams, Message: "Invalid parameters: " + detail},
	})
}

// SendPoisonPillError emits the -32603 response used when a request's retry
// count exceeds the bound and it is dropped without further attempts.
func (s *Server) SendPoisonPillError(id int64) {
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: CodeInternalError, Message: "Command execution failed: request exceeded maximum retry count"},
	})
}

// SendResult emits a success response.
func (s *Server) SendResult(id int64, result any, largeData map[string][]byte) {
	s.printResponse(Response{JSONRPC: "2.0", ID: id, Result: s.wrapLargeData(result, largeData)})
}

// SendHandlerError emits the -32603 "Command execution failed" response,
// carrying stderr content as the error data when non-empty.
func (s *Server) SendHandlerError(id int64, stderrContent string) {
	var data any
	if stderrContent != "" {
		data = stderrContent
	}
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: CodeInternalError, Message: "Command execution failed", Data: data},
	})
}

// SendTimeoutError emits the timeout-path error response. id is the
// recovered request id, or 0 if it could not be recovered from raw request
// bytes.
func (s *Server) SendTimeoutError(id int64, method string, timeoutMs int64) {
	s.printResponse(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &ErrorDetail{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("Command %q timed out after %dms", method, timeoutMs),
			Data:    map[string]any{"timeoutMs": timeoutMs},
		},
	})
}

// SendNotification emits a notification (no id).
func (s *Server) SendNotification(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(n)
}

// SendReady emits the one-shot startup announcement.
func (s *Server) SendReady(checksums map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(ReadyMessage{
		JSONRPC: "2.0",
		Status:  "ready",
		Message: "zowed is ready to accept input",
		Data:    ReadyData{Checksums: checksums},
	})
}

func (s *Server) printResponse(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(resp)
}

func (s *Server) writeLocked(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to serialize JSON-RPC message", "error", err)
		return
	}
	b = append(b, '\n')
	if _, err := s.out.Write(b); err != nil {
		s.log.Error("failed to write JSON-RPC message", "error", err)
	}
}

// wrapLargeData marshals result with placeholder strings for every field
// named in largeData, then splices the base64-encoded raw bytes directly
// into the marshaled output. Base64 text needs no JSON escaping, so this
// skips a second pass of encoding/json's escaping scan over payloads that
// can be tens of megabytes (see DESIGN NOTES on the response mutex being
// held during serialization). When --compress-streams is set, payloads
// above compressionThreshold are gzipped first and flagged with a sibling
// "<field>Encoding":"gzip" key so the client knows to inflate them.
func (s *Server) wrapLargeData(result any, largeData map[string][]byte) any {
	if len(largeData) == 0 {
		return result
	}
	obj, ok := result.(map[string]any)
	if !ok {
		return result
	}
	placeholders := make(map[string]string, len(largeData))
	raw := make(map[string][]byte, len(largeData))
	for field, data := range largeData {
		if s.compress && len(data) >= compressionThreshold {
			if gz, err := gzipCompress(data); err == nil {
				data = gz
				obj[field+"Encoding"] = "gzip"
			} else {
				s.log.Warn("gzip compression failed, sending payload uncompressed", "field", field, "error", err)
			}
		}
		ph := fmt.Sprintf(largeFieldPlaceholder, field)
		obj[field] = ph
		placeholders[field] = ph
		raw[field] = data
	}
	return spliceLargeData{obj: obj, placeholders: placeholders, raw: raw}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// spliceLargeData implements json.Marshaler, performing the placeholder
// splice described in wrapLargeData at the point the enclosing Response is
// marshaled.
type spliceLargeData struct {
	obj          map[string]any
	placeholders map[string]string
	raw          map[string][]byte
}

func (s spliceLargeData) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(s.obj)
	if err != nil {
		return nil, err
	}
	for field, ph := range s.placeholders {
		quoted, err := json.Marshal(ph)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(s.raw[field])
		replacement := append([]byte{'"'}, []byte(encoded)...)
		replacement = append(replacement, '"')
		b = bytes.Replace(b, quoted, replacement, 1)
	}
	return b, nil
}
