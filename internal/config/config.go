// Package config holds the zowed daemon's runtime options: worker count,
// verbosity, and the TMPDIR-rooted FIFO directory resolution.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultNumWorkers matches the original CLI's default.
const DefaultNumWorkers = 10

// Options holds the parsed CLI surface described in SPEC_FULL.md §6.
type Options struct {
	NumWorkers      int
	Verbose         bool
	CompressStreams bool
}

// ParseArgs parses args (typically os.Args[1:]) into Options. It returns
// (nil, flag.ErrHelp) when -h/--help was requested, after printing usage.
func ParseArgs(args []string) (*Options, error) {
	fs := flag.NewFlagSet("zowed", flag.ContinueOnError)
	opts := &Options{}

	fs.IntVar(&opts.NumWorkers, "w", DefaultNumWorkers, "number of worker goroutines")
	fs.IntVar(&opts.NumWorkers, "num-workers", DefaultNumWorkers, "number of worker goroutines")
	fs.BoolVar(&opts.Verbose, "v", false, "enable DEBUG logging")
	fs.BoolVar(&opts.Verbose, "verbose", false, "enable DEBUG logging")
	fs.BoolVar(&opts.CompressStreams, "c", false, "gzip-compress large out-of-line response payloads")
	fs.BoolVar(&opts.CompressStreams, "compress-streams", false, "gzip-compress large out-of-line response payloads")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.NumWorkers <= 0 {
		return nil, fmt.Errorf("--num-workers must be > 0, got %d", opts.NumWorkers)
	}

	return opts, nil
}

// ExecutableDir returns the directory containing the current executable,
// used to resolve checksums.asc next to the binary. Falls back to "." if
// the executable path cannot be determined.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// FifoDir resolves TMPDIR, falling back to /tmp when unset or empty.
func FifoDir() string {
	if dir := os.Getenv("TMPDIR"); dir != "" {
		return dir
	}
	return "/tmp"
}
