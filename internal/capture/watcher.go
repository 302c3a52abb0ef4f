package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zombor/smartkart/internal/scanning"
)

// frameExtensions maps spool file extensions to content types
var frameExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
}

// DefaultSettle is how long a spool file must go without a write event
// before it is read
const DefaultSettle = 250 * time.Millisecond

// Sink receives frames read from disk
type Sink interface {
	Push(frame scanning.Frame) error
}

// DirWatcher turns image files dropped into a spool directory by an external
// capture tool into frames. Files are removed once read.
//
// A file is read only after it has gone settle without a create or write
// event, so tools may write frames in place as long as they never pause
// longer than that mid-file. Tools that rename complete files into the
// directory are picked up after one settle interval.
type DirWatcher struct {
	dir    string
	sink   Sink
	settle time.Duration
}

// NewDirWatcher creates the spool directory if needed
func NewDirWatcher(dir string, sink Sink) (*DirWatcher, error) {
	return NewDirWatcherWithDeps(dir, sink, DefaultSettle)
}

// NewDirWatcherWithDeps creates a DirWatcher with a custom settle interval
func NewDirWatcherWithDeps(dir string, sink Sink, settle time.Duration) (*DirWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating frames directory: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &DirWatcher{dir: dir, sink: sink, settle: settle}, nil
}

// Run watches the directory until ctx is done. Frames already present at
// startup are consumed first, oldest name first.
func (d *DirWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}

	existing, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", d.dir, err)
	}
	names := make([]string, 0, len(existing))
	for _, e := range existing {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > 0 {
		// Give a writer that was mid-file at startup one settle interval
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.settle):
		}
		for _, name := range names {
			d.ingest(filepath.Join(d.dir, name))
		}
	}

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	slog.Info("Watching frames directory", "dir", d.dir, "settle", d.settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-ready:
			delete(timers, path)
			d.ingest(path)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if t, ok := timers[event.Name]; ok {
				t.Reset(d.settle)
				continue
			}
			path := event.Name
			timers[path] = time.AfterFunc(d.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Frames watcher error", "error", err)
		}
	}
}

func (d *DirWatcher) ingest(path string) {
	contentType, ok := frameExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read frame", "path", path, "error", err)
		}
		return
	}
	if len(data) == 0 {
		// Still being written; the next Write event brings it back.
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove frame", "path", path, "error", err)
	}

	if err := d.sink.Push(scanning.Frame{Data: data, ContentType: contentType}); err != nil {
		slog.Debug("Dropped frame", "path", path, "error", err)
	}
}
