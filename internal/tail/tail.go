// Package tail provides incremental reading of the active VRChat log file.
// It polls a watched directory, follows the most recently modified log,
// reads appended bytes in bounded chunks, and reassembles complete lines
// across chunk boundaries.
package tail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults for the reader. Chunk size bounds memory use on logs of
// unbounded size; the poll interval matches the log writer's flush cadence.
const (
	DefaultPattern      = "output_log_*.txt"
	DefaultPollInterval = 1 * time.Second
	DefaultChunkSize    = 64 * 1024
	DefaultLineBuffer   = 256
)

// Line is one complete log line produced by the reader.
type Line struct {
	Text string
	// Backfill marks lines that existed before the reader first saw the
	// file. Downstream suppresses enrichment for these.
	Backfill bool
}

// Reader tails the newest log file in a directory.
type Reader struct {
	dir        string
	pattern    string
	interval   time.Duration
	chunkSize  int
	lineBuffer int
	logger     *slog.Logger

	// cursor state, owned by the run goroutine
	path          string
	offset        int64
	carry         []byte
	started       bool
	backfillUntil int64
}

// Option configures a Reader.
type Option func(*Reader)

// WithPollInterval sets the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithChunkSize sets the read chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithPattern sets the glob pattern for active log files.
func WithPattern(pattern string) Option {
	return func(r *Reader) {
		if pattern != "" {
			r.pattern = pattern
		}
	}
}

// WithLineBuffer sets the output channel buffer size.
func WithLineBuffer(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.lineBuffer = n
		}
	}
}

// WithLogger sets the logger for the Reader.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reader watching the given directory.
func New(dir string, opts ...Option) *Reader {
	r := &Reader{
		dir:        dir,
		pattern:    DefaultPattern,
		interval:   DefaultPollInterval,
		chunkSize:  DefaultChunkSize,
		lineBuffer: DefaultLineBuffer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins polling and returns the line channel. The channel closes
// after ctx is cancelled and the in-flight poll pass has completed.
func (r *Reader) Start(ctx context.Context) <-chan Line {
	out := make(chan Line, r.lineBuffer)
	go func() {
		defer close(out)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// Immediate first pass so backfill starts without waiting a tick.
		r.poll(ctx, out)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.poll(ctx, out)
			}
		}
	}()
	return out
}

// poll performs one read pass: pick the active file, read newly appended
// bytes, and emit complete lines. Errors are logged and retried next tick.
func (r *Reader) poll(ctx context.Context, out chan<- Line) {
	path, err := r.findActive()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("scan log directory", "dir", r.dir, "error", err)
		}
		return
	}
	if path == "" {
		return
	}

	if path != r.path {
		r.switchFile(path)
	}

	if err := r.readAppended(ctx, out); err != nil {
		r.logger.Warn("read log file", "path", r.path, "error", err)
	}
}

// switchFile points the cursor at a new active file.
func (r *Reader) switchFile(path string) {
	first := !r.started
	r.path = path
	r.offset = 0
	r.carry = nil
	r.backfillUntil = 0
	r.started = true

	if first {
		// Existing content of the first file is historical backfill.
		if info, err := os.Stat(path); err == nil {
			r.backfillUntil = info.Size()
		}
		r.logger.Info("tailing log file", "path", path, "backfill_bytes", r.backfillUntil)
		return
	}
	r.logger.Info("switched to new log file", "path", path)
}

// findActive returns the most recently modified file matching the pattern,
// or "" when none exists yet.
func (r *Reader) findActive() (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", err
	}

	var (
		best     string
		bestMod  time.Time
		haveBest bool
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(r.pattern, entry.Name())
		if err != nil || !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !haveBest || info.ModTime().After(bestMod) {
			best = filepath.Join(r.dir, entry.Name())
			bestMod = info.ModTime()
			haveBest = true
		}
	}
	return best, nil
}

// readAppended reads bytes past the cursor in bounded chunks and emits the
// complete lines they contain. The trailing partial line is carried over to
// the next pass so lines truncated mid-write are never dropped.
func (r *Reader) readAppended(ctx context.Context, out chan<- Line) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < r.offset {
		// External rotation or truncation: start over from the top. The
		// replaced content is new, not historical, so the backfill boundary
		// resets with the cursor.
		r.logger.Info("log file shrank, resetting cursor", "path", r.path, "size", info.Size())
		r.offset = 0
		r.carry = nil
		r.backfillUntil = 0
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, r.chunkSize)
	for {
		chunkStart := r.offset
		n, err := f.Read(buf)
		if n > 0 {
			r.offset += int64(n)
			backfill := chunkStart < r.backfillUntil
			if !r.emitLines(ctx, out, buf[:n], backfill) {
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// emitLines splits a chunk into lines, prepending the carried partial line,
// and sends the complete ones. Returns false when ctx is cancelled.
func (r *Reader) emitLines(ctx context.Context, out chan<- Line, chunk []byte, backfill bool) bool {
	data := chunk
	if len(r.carry) > 0 {
		data = append(r.carry, chunk...)
		r.carry = nil
	}

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		text := strings.TrimSuffix(string(data[:idx]), "\r")
		data = data[idx+1:]
		if text == "" {
			continue
		}
		select {
		case out <- Line{Text: text, Backfill: backfill}:
		case <-ctx.Done():
			return false
		}
	}

	if len(data) > 0 {
		r.carry = append([]byte(nil), data...)
	}
	return true
}
