package middleware

import (
	"testing"

	"github.com/zowe-sub/zowed/internal/rpcio"
)

type recordingSender struct {
	sent []rpcio.Notification
}

func (r *recordingSender) SendNotification(n rpcio.Notification) {
	r.sent = append(r.sent, n)
}

func TestSetContentLenFlushesPendingNotificationOnce(t *testing.T) {
	sender := &recordingSender{}
	ctx := NewContext("upload", nil, sender)

	ctx.SetPendingNotification(rpcio.Notification{Method: "receiveStream", Params: map[string]any{"id": int64(1)}})
	ctx.SetContentLen(1024)
	ctx.SetContentLen(2048) // second call must not emit again

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(sender.sent))
	}
	if got := sender.sent[0].Params["contentLen"]; got != int64(1024) {
		t.Errorf("expected contentLen=1024 from the first commit, got %v", got)
	}
}

func TestSetContentLenWithNoPendingNotificationIsANoop(t *testing.T) {
	sender := &recordingSender{}
	ctx := NewContext("upload", nil, sender)
	ctx.SetContentLen(42)

	if len(sender.sent) != 0 {
		t.Fatalf("expected no notification sent, got %d", len(sender.sent))
	}
}

func TestContextBuffersAreIndependent(t *testing.T) {
	ctx := NewContext("echo", rpcio.ArgMap{}, nil)
	ctx.SetInputContent([]byte("in"))
	ctx.SetOutputContent([]byte("out"))
	ctx.Errln("warning one")
	ctx.Errln("warning two")

	if string(ctx.InputContent()) != "in" {
		t.Errorf("InputContent() = %q, want \"in\"", ctx.InputContent())
	}
	if string(ctx.GetOutputContent()) != "out" {
		t.Errorf("GetOutputContent() = %q, want \"out\"", ctx.GetOutputContent())
	}
	if want := "warning one\nwarning two\n"; string(ctx.GetErrorContent()) != want {
		t.Errorf("GetErrorContent() = %q, want %q", ctx.GetErrorContent(), want)
	}
}

func TestNewContextNilArgsYieldsEmptyMap(t *testing.T) {
	ctx := NewContext("echo", nil, nil)
	if ctx.MutableArguments() == nil {
		t.Fatalf("expected a non-nil argument map")
	}
	if len(ctx.MutableArguments()) != 0 {
		t.Errorf("expected an empty argument map, got %+v", ctx.MutableArguments())
	}
}

func TestStoreLargeDataAccumulates(t *testing.T) {
	ctx := NewContext("echo", nil, nil)
	ctx.StoreLargeData("a", []byte("one"))
	ctx.StoreLargeData("b", []byte("two"))

	data := ctx.LargeData()
	if string(data["a"]) != "one" || string(data["b"]) != "two" {
		t.Errorf("unexpected large data map: %+v", data)
	}
}
