// new prints the lines of stdin that have not been seen before.
//
// Given a file, every new line is appended to that file, so the file grows
// into the set of everything seen so far:
//
//	tail -f access.log | cut -d' ' -f1 | new ips.txt
//
// Without a file, new deduplicates stdin to stdout for as long as the stream
// lasts.
//
// Membership is answered by a stacked Bloom filter, so a never-seen line is
// skipped with probability of about one in ten thousand. Lines already in the
// file are never printed twice.
//
// Filter Cache
// ============
//
// Loading a large file into a fresh filter on every invocation is wasteful.
// After each run the filter is saved to ~/.new/<hash of the file path>, along
// with the inode, device and mtime of the file. The next run reuses it when
// the file has not been touched by anyone else in between. Otherwise, and
// with -f, the filter is rebuilt from the file.
//
// Growth
// ======
//
// A filter is sized for -s lines (or twice the current line count for files
// over 100 KiB). When a segment fills up the filter stacks another one, up to
// -m segments. Past that point the false-positive rate is no longer bounded
// and the filter is rebuilt from the file at a larger size in the middle of
// the run. In stdin mode the stack is unbounded.
//
// Exit Codes
// ==========
//
// 0: All input was processed.
// 1: The file, cache directory, or filter could not be set up, or a rebuild
// failed.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"new.lopezb.com/internal/cache"
)

const defaultMaxStacks = 5

type config struct {
	initialSize  uint64
	maxStacks    uint64
	forceRebuild bool
	verbose      bool
	noCache      bool
	file         string
}

type application struct {
	config config
	logger *slog.Logger
}

func main() {
	var cfg config

	flag.Uint64Var(&cfg.initialSize, "s", cache.DefaultInitialSize, "Initial filter capacity")
	flag.Uint64Var(&cfg.maxStacks, "m", defaultMaxStacks, "Maximum number of filter stacks (0 for unbounded)")
	flag.BoolVar(&cfg.forceRebuild, "f", false, "Force filter rebuild")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose output")
	flag.BoolVar(&cfg.noCache, "n", false, "Do not save cache files in ~/.new")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() > 1 {
		usage()
		os.Exit(1)
	}
	cfg.file = flag.Arg(0)

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := &application{
		config: cfg,
		logger: logger,
	}

	if err := app.run(os.Stdin, os.Stdout); err != nil {
		logger.Error("dedup failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] [file]\noptions:\n", os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintln(flag.CommandLine.Output(), "\nIf no file is specified, deduplicate stdin stream to stdout")
}
