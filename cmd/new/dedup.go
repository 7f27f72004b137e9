package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"new.lopezb.com/internal/bloom"
	"new.lopezb.com/internal/cache"
)

var errSingleStack = errors.New("max stacks must be 0 (unbounded) or at least 2")

// session is the state of one run. In stdin mode file is nil and path and
// cachePath are empty; cachePath is also empty when caching is disabled.
type session struct {
	filter    *bloom.Filter
	out       *bufio.Writer
	file      *os.File
	path      string
	cachePath string
}

// run deduplicates in against the configured file (or against itself in
// stdin mode) and writes new lines to the file, or to stdout.
func (app *application) run(in io.Reader, stdout io.Writer) error {
	s, err := app.open(stdout)
	if err != nil {
		return err
	}
	defer s.close()

	if err := app.dedup(s, in); err != nil {
		return err
	}
	return app.finish(s)
}

func (app *application) open(stdout io.Writer) (*session, error) {
	cfg := app.config

	if cfg.file == "" {
		app.logger.Debug("running in stdin-only dedup mode")
		f, err := bloom.New(cfg.initialSize, bloom.DefaultAccuracy, 0)
		if err != nil {
			return nil, fmt.Errorf("initialize filter: %w", err)
		}
		return &session{filter: f, out: bufio.NewWriter(stdout)}, nil
	}

	// A single capped segment raises NeedsRebuild on every insert, which
	// would rebuild, and double the filter, once per line.
	if cfg.maxStacks == 1 {
		return nil, errSingleStack
	}

	path, err := resolvePath(cfg.file)
	if err != nil {
		return nil, err
	}

	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &session{file: fp, out: bufio.NewWriter(fp), path: path}

	if !cfg.noCache {
		home, err := cache.Home()
		if err != nil {
			_ = fp.Close()
			return nil, err
		}
		dir := cache.Dir(home)
		if err := cache.EnsureDir(dir); err != nil {
			_ = fp.Close()
			return nil, fmt.Errorf("cache directory: %w", err)
		}
		s.cachePath = cache.PathFor(dir, path)
	}

	s.filter, err = app.loadOrBuild(s)
	if err != nil {
		_ = fp.Close()
		return nil, err
	}
	return s, nil
}

// resolvePath makes name absolute with the symlinks of its directory
// resolved, so that every spelling of a file shares one cache.
func resolvePath(name string) (string, error) {
	dir, err := filepath.Abs(filepath.Dir(name))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return filepath.Join(dir, filepath.Base(name)), nil
}

// loadOrBuild returns the cached filter for s.path if there is a current one
// and builds a fresh one from the file otherwise.
func (app *application) loadOrBuild(s *session) (*bloom.Filter, error) {
	if s.cachePath != "" && !app.config.forceRebuild {
		f, err := bloom.Load(s.cachePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			app.logger.Debug("no cached filter", "cache", s.cachePath)
		case err != nil:
			app.logger.Warn("failed to load cached filter, rebuilding", "cache", s.cachePath, "error", err)
		case cache.Stale(f, s.path):
			app.logger.Debug("cached filter is stale, rebuilding", "cache", s.cachePath)
			f.Release()
		default:
			app.logger.Debug("loaded cached filter", "cache", s.cachePath, "stats", f.Stats())
			return f, nil
		}
	}

	expected := cache.ExpectedFor(s.path, app.config.initialSize)
	return app.build(s.path, expected, bloom.DefaultAccuracy)
}

// build creates a filter for expected lines and loads the contents of path
// into it.
func (app *application) build(path string, expected uint64, accuracy float32) (*bloom.Filter, error) {
	f, err := bloom.New(expected, accuracy, app.config.maxStacks)
	if err != nil {
		return nil, fmt.Errorf("initialize filter: %w", err)
	}
	if err := f.PopulateFromFile(path); err != nil {
		f.Release()
		return nil, fmt.Errorf("populate filter from %s: %w", path, err)
	}
	if err := cache.Stamp(f, path); err != nil {
		f.Release()
		return nil, err
	}

	app.logger.Debug("built filter", "file", path, "stats", f.Stats())
	return f, nil
}

func (app *application) dedup(s *session, in io.Reader) error {
	br := bufio.NewReaderSize(in, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if herr := app.handle(s, bytes.TrimSuffix(line, []byte{'\n'})); herr != nil {
				return herr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}

// handle writes line if the filter has not seen it and rebuilds the filter
// once it has reached its stack cap.
func (app *application) handle(s *session, line []byte) error {
	seen, err := s.filter.TestAndInsert(line)
	if err != nil {
		// The last segment keeps taking inserts; growth is retried on the next one.
		app.logger.Warn("filter growth failed", "error", err)
	}

	if !seen {
		app.logger.Debug("new line", "line", string(line))
		if _, err := s.out.Write(line); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		if err := s.out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if s.filter.NeedsRebuild() {
		return app.rebuild(s)
	}
	return nil
}

// rebuild replaces the capped filter with one sized for twice the capacity
// of the whole stack, populated from the file.
func (app *application) rebuild(s *session) error {
	if err := s.out.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	old := s.filter
	expected := old.Expected() * old.MaxStacks() * 2
	app.logger.Debug("rebuilding filter", "stats", old.Stats(), "new_expected", expected)

	f, err := app.build(s.path, expected, old.Accuracy())
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	old.Release()
	s.filter = f
	return nil
}

// finish makes the output durable and, when caching, saves the filter. A
// filter that cannot be saved only costs a rebuild on the next run.
func (app *application) finish(s *session) error {
	if err := s.out.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		app.logger.Warn("failed to sync output", "file", s.path, "error", err)
	}

	if s.cachePath == "" {
		return nil
	}
	if err := cache.Stamp(s.filter, s.path); err != nil {
		app.logger.Warn("failed to stamp filter", "error", err)
		return nil
	}
	if err := s.filter.Save(s.cachePath); err != nil {
		app.logger.Warn("failed to save cache filter", "cache", s.cachePath, "error", err)
		return nil
	}

	app.logger.Debug("saved filter cache",
		"cache", s.cachePath,
		"digest", fmt.Sprintf("%016x", s.filter.Digest()),
		"stats", s.filter.Stats(),
	)
	return nil
}

func (s *session) close() {
	_ = s.out.Flush()
	if s.file != nil {
		_ = s.file.Close()
	}
	s.filter.Release()
}
