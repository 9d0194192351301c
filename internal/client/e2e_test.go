package client_test

import (
	"bufio"
	"io"
	"testing"
	"time"

	"github.com/zowe-sub/zowed/internal/client"
	"github.com/zowe-sub/zowed/internal/commands"
	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/rpcio"
	"github.com/zowe-sub/zowed/internal/workerpool"
)

// startDaemon wires a worker pool to a pair of pipes, mirroring cmd/zowed's
// main loop, and returns a Client connected to the opposite ends.
func startDaemon(t *testing.T, n int, timeout time.Duration) *client.Client {
	t.Helper()

	d := dispatch.New(nil)
	commands.RegisterAll(d, nil)

	serverOutR, serverOutW := io.Pipe()
	server := rpcio.NewServer(serverOutW, nil)

	// The client must already be reading: New writes the ready message to
	// the unbuffered pipe before it returns.
	clientOutR, clientOutW := io.Pipe()
	t.Cleanup(func() { clientOutW.Close() })
	c := client.New(serverOutR, clientOutW)

	pool, err := workerpool.New(n, d, server, timeout, nil, nil)
	if err != nil {
		t.Fatalf("workerpool.New() error: %v", err)
	}
	t.Cleanup(pool.Shutdown)

	go func() {
		scanner := bufio.NewScanner(clientOutR)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := append([]byte(nil), line...)
			pool.DistributeRequest(cp)
		}
	}()

	return c
}

func TestEndToEndEchoHappyPath(t *testing.T) {
	c := startDaemon(t, 2, time.Second)

	resp, err := c.Call("echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	if string(resp.Result) != `"hello"` {
		t.Errorf("result = %s, want \"hello\"", resp.Result)
	}
}

func TestEndToEndMethodNotFound(t *testing.T) {
	c := startDaemon(t, 1, time.Second)

	resp, err := c.Call("bogus", nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != rpcio.CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestEndToEndMergeFlattensObject(t *testing.T) {
	c := startDaemon(t, 1, time.Second)

	resp, err := c.Call("merge", map[string]any{"opts": `{"a":1,"b":2}`})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	if string(resp.Result) != `"1,2"` {
		t.Errorf("result = %s, want \"1,2\"", resp.Result)
	}
}
