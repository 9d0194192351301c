package commands

import (
	"testing"
	"time"

	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/middleware"
	"github.com/zowe-sub/zowed/internal/rpcio"
)

func TestRegisterAllRegistersEveryExampleCommand(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	for _, name := range []string{"echo", "fault", "pending", "hang", "upload", "merge"} {
		if !d.HasCommand(name) {
			t.Errorf("expected %q to be registered", name)
		}
	}
}

func TestEchoHandlerCopiesMessage(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	ctx := middleware.NewContext("echo", rpcio.ArgMap{"message": rpcio.StringArg("hello")}, nil)
	status, result := d.Dispatch("echo", ctx, nil)
	if status != 0 {
		t.Fatalf("status = %d, want 0", status)
	}
	if result != "hello" {
		t.Errorf("result = %v, want \"hello\"", result)
	}
}

func TestEchoHandlerRequiresMessage(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	ctx := middleware.NewContext("echo", rpcio.ArgMap{}, nil)
	status, _ := d.Dispatch("echo", ctx, nil)
	if status == 0 {
		t.Fatalf("expected a non-zero status when message is missing")
	}
}

func TestFaultHandlerIsRecoveredAsAFault(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	ctx := middleware.NewContext("fault", rpcio.ArgMap{}, nil)
	status, _ := d.Dispatch("fault", ctx, nil)
	if status != dispatch.StatusFault {
		t.Errorf("status = %d, want StatusFault", status)
	}
}

func TestHangHandlerReleasesOnDemand(t *testing.T) {
	d := dispatch.New(nil)
	handles := RegisterAll(d, nil)

	done := make(chan int, 1)
	go func() {
		ctx := middleware.NewContext("hang", rpcio.ArgMap{}, nil)
		status, _ := d.Dispatch("hang", ctx, nil)
		done <- status
	}()

	select {
	case <-done:
		t.Fatalf("hang handler returned before being released")
	case <-time.After(50 * time.Millisecond):
	}

	handles.ReleaseHang()

	select {
	case status := <-done:
		if status != 0 {
			t.Errorf("status = %d, want 0 after release", status)
		}
	case <-time.After(time.Second):
		t.Fatalf("hang handler did not return after ReleaseHang")
	}
}

func TestUploadHandlerCommitsDeferredNotification(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	sender := &recordingSender{}
	args := rpcio.ArgMap{"streamId": rpcio.Int64Arg(1)}
	ctx := middleware.NewContext("upload", args, sender)
	status, _ := d.Dispatch("upload", ctx, sender)
	if status != 0 {
		t.Fatalf("status = %d, want 0", status)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one committed notification, got %d", len(sender.sent))
	}
	if n := sender.sent[0]; n.Method != "sendStream" || n.Params["contentLen"] != int64(1024) {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestMergeHandlerRequiresFlattenedArgs(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	ctx := middleware.NewContext("merge", rpcio.ArgMap{"opts": rpcio.StringArg(`{"a":1,"b":2}`)}, nil)
	status, result := d.Dispatch("merge", ctx, nil)
	if status != 0 {
		t.Fatalf("status = %d, want 0", status)
	}
	if result != "1,2" {
		t.Errorf("result = %v, want \"1,2\"", result)
	}
}

func TestMergeHandlerFailsWithoutFlattenedArgs(t *testing.T) {
	d := dispatch.New(nil)
	RegisterAll(d, nil)

	ctx := middleware.NewContext("merge", rpcio.ArgMap{}, nil)
	status, _ := d.Dispatch("merge", ctx, nil)
	if status == 0 {
		t.Fatalf("expected a non-zero status when a/b are absent")
	}
}

type recordingSender struct {
	sent []rpcio.Notification
}

func (r *recordingSender) SendNotification(n rpcio.Notification) {
	r.sent = append(r.sent, n)
}
