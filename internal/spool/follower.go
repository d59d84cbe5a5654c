// Package spool follows a JSON-lines execution spool. Tools append one
// execution record per line; the follower decodes each line as it is
// written and survives rotation and truncation of the file.
package spool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// Record is one decoded spool line.
type Record struct {
	Execution *models.Execution
	Line      int   // 1-based line number since the file was (re)opened
	Err       error // decode or watcher error; Execution is nil when set
}

// Options configures a Follower.
type Options struct {
	// Follow keeps watching for appended lines after the existing content.
	Follow bool
	// PollInterval is the fallback polling interval when fsnotify misses events.
	PollInterval time.Duration
	// ReOpen reopens the spool when it is rotated.
	ReOpen bool
	// MustExist fails construction when the spool is missing.
	MustExist bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Follow:       true,
		PollInterval: 250 * time.Millisecond,
		ReOpen:       true,
		MustExist:    false,
	}
}

// Follower watches a spool file and emits decoded executions.
type Follower struct {
	path    string
	opts    *Options
	watcher *fsnotify.Watcher

	file   *os.File
	reader *bufio.Reader
	size   int64
	line   int

	records chan Record
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewFollower creates a follower for the spool at path.
func NewFollower(path string, opts *Options) (*Follower, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil && !(os.IsNotExist(err) && !opts.MustExist) {
		return nil, fmt.Errorf("spool not readable: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	f := &Follower{
		path:    absPath,
		opts:    opts,
		watcher: watcher,
		records: make(chan Record, 100),
		done:    make(chan struct{}),
	}

	if info != nil {
		if err := f.open(); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return f, nil
}

// Records returns the channel of decoded lines. It is closed when the
// follower stops.
func (f *Follower) Records() <-chan Record {
	return f.records
}

// Path returns the absolute spool path.
func (f *Follower) Path() string {
	return f.path
}

// Start reads the existing content and then follows appended lines.
func (f *Follower) Start(ctx context.Context) error {
	// The directory is watched so rotation (remove + create) is seen.
	if err := f.watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	go f.run(ctx)
	return nil
}

// StartFromEnd skips the existing content and only follows new lines.
func (f *Follower) StartFromEnd(ctx context.Context) error {
	if f.file != nil {
		offset, err := f.file.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("failed to seek to end: %w", err)
		}
		f.size = offset
		f.reader = bufio.NewReader(f.file)
	}
	return f.Start(ctx)
}

// Stop stops the follower.
func (f *Follower) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	close(f.done)
	f.watcher.Close()
	if f.file != nil {
		f.file.Close()
	}
}

func (f *Follower) open() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	f.size = 0
	f.line = 0
	return nil
}

func (f *Follower) run(ctx context.Context) {
	defer close(f.records)

	f.readLines()
	if !f.opts.Follow {
		return
	}

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.send(Record{Err: fmt.Errorf("watcher error: %w", err)})
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *Follower) handleEvent(event fsnotify.Event) {
	if event.Name != f.path {
		return
	}
	switch {
	case event.Has(fsnotify.Write):
		f.poll()
	case event.Has(fsnotify.Create):
		if f.opts.ReOpen || f.file == nil {
			f.reopen()
		}
	}
	// Remove and rename are followed by a create on rotation.
}

// poll compares the file size with what has been consumed.
func (f *Follower) poll() {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	if f.file == nil {
		f.reopen()
		return
	}
	switch size := info.Size(); {
	case size < f.size:
		f.rewind()
	case size > f.size:
		f.readLines()
	}
}

func (f *Follower) reopen() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
	for i := 0; i < 10; i++ {
		if err := f.open(); err == nil {
			f.readLines()
			return
		}
		select {
		case <-f.done:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// rewind restarts from the top after a copy-truncate rotation.
func (f *Follower) rewind() {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		f.send(Record{Err: fmt.Errorf("seek error: %w", err)})
		return
	}
	f.reader = bufio.NewReader(f.file)
	f.size = 0
	f.line = 0
	f.readLines()
}

func (f *Follower) readLines() {
	if f.file == nil || f.reader == nil {
		return
	}

	for {
		text, err := f.reader.ReadString('\n')
		if err == io.EOF {
			// A partial line is re-read once its newline arrives.
			if len(text) > 0 {
				f.file.Seek(-int64(len(text)), io.SeekCurrent)
				f.reader = bufio.NewReader(f.file)
			}
			return
		}
		if err != nil {
			f.send(Record{Err: fmt.Errorf("read error: %w", err)})
			return
		}
		f.size += int64(len(text))
		f.line++

		exec, err := Decode([]byte(text))
		switch {
		case err == errBlankLine:
			continue
		case err != nil:
			metrics.SpoolLinesTotal.WithLabelValues("invalid").Inc()
			f.send(Record{Line: f.line, Err: fmt.Errorf("line %d: %w", f.line, err)})
		default:
			metrics.SpoolLinesTotal.WithLabelValues("ok").Inc()
			f.send(Record{Execution: exec, Line: f.line})
		}
	}
}

func (f *Follower) send(r Record) {
	select {
	case f.records <- r:
	case <-f.done:
	}
}
