// Command zowed is a long-running daemon that reads newline-delimited
// JSON-RPC 2.0 requests from stdin, dispatches them through the worker
// pool, and writes responses and notifications to stdout.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zowe-sub/zowed/internal/checksums"
	"github.com/zowe-sub/zowed/internal/commands"
	"github.com/zowe-sub/zowed/internal/config"
	"github.com/zowe-sub/zowed/internal/dispatch"
	"github.com/zowe-sub/zowed/internal/rpcio"
	"github.com/zowe-sub/zowed/internal/version"
	"github.com/zowe-sub/zowed/internal/workerpool"
	"github.com/zowe-sub/zowed/internal/zlog"
)

// workerTimeout is the stale-heartbeat threshold past which the monitor
// replaces a Running worker.
const workerTimeout = 30 * time.Second

func main() {
	opts, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "zowed:", err)
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal error:", err)
		os.Exit(1)
	}
}

func run(opts *config.Options) error {
	logger := zlog.New(opts.Verbose)
	logger.Info("starting zowed", "version", version.Version(), "num_workers", opts.NumWorkers, "verbose", opts.Verbose)

	execDir := config.ExecutableDir()
	sums, err := checksums.Load(execDir, logger)
	if err != nil {
		logger.Warn("failed to load checksums.asc", "error", err)
	}

	server := rpcio.NewServer(os.Stdout, logger)
	server.SetCompressStreams(opts.CompressStreams)

	d := dispatch.New(logger)
	logger.Debug("registering command handlers")
	commands.RegisterAll(d, logger)
	logger.Debug("command handlers registered", "commands", d.RegisteredCommands())

	pool, err := workerpool.New(opts.NumWorkers, d, server, workerTimeout, sums, logger)
	if err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			logger.Info("shutting down")
			pool.Shutdown()
			os.Stdin.Close()
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdown()
	}()

	if opts.Verbose {
		go logWorkerCount(pool, opts.NumWorkers, logger)
	}

	logger.Debug("entering main input processing loop")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		pool.DistributeRequest(line)
	}

	logger.Info("input stream closed, shutting down")
	shutdown()
	return nil
}

// logWorkerCount mirrors the original's verbose-only background poll of
// available worker count, used only to surface pool warm-up progress in
// debug logs.
func logWorkerCount(pool *workerpool.WorkerPool, want int, logger interface {
	Debug(msg string, args ...any)
}) {
	for i := 0; i < 50; i++ {
		count := pool.AvailableWorkersCount()
		logger.Debug("available workers", "count", count, "want", want)
		if count == want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
