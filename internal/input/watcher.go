package input

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultSettle = 300 * time.Millisecond
	defaultPoll   = 2 * time.Second
)

// Watcher monitors a transcript file an external recorder writes into, and
// emits the whole file content as one input line once the file stabilizes.
// Identical content is never re-emitted. It watches the parent directory so
// the file may not exist yet when the watcher starts.
type Watcher struct {
	path   string
	settle time.Duration
	poll   time.Duration

	lastContent string
}

// NewWatcher creates a watcher for path. The file's directory is created if
// missing so fsnotify has something to attach to.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, settle: defaultSettle, poll: defaultPoll}
}

func (w *Watcher) Name() string { return "transcript" }

// Run watches until the context is cancelled. Write events reset a settle
// timer; content is read only after a quiet period, so half-written
// transcripts are not emitted. A slow poll ticker backstops editors and
// writers that bypass inotify.
func (w *Watcher) Run(ctx context.Context, lines chan<- Line) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Content present before startup is stale (a leftover transcript from a
	// previous run); remember it so it is not replayed as fresh input.
	if data, err := os.ReadFile(w.path); err == nil {
		w.lastContent = strings.TrimSpace(string(data))
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	settle := time.NewTimer(w.settle)
	if !settle.Stop() {
		<-settle.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				settle.Reset(w.settle)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("transcript watcher error", "error", err)

		case <-settle.C:
			if err := w.emit(ctx, lines); err != nil {
				return err
			}

		case <-ticker.C:
			if err := w.emit(ctx, lines); err != nil {
				return err
			}
		}
	}
}

// emit reads the file and sends its content if it is new and non-empty.
// The send blocks while the engine is busy; the line is queued, not dropped.
func (w *Watcher) emit(ctx context.Context, lines chan<- Line) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil // not there yet, or transiently unreadable
	}

	content := strings.TrimSpace(string(data))
	if content == "" || content == w.lastContent {
		return nil
	}
	w.lastContent = content

	select {
	case lines <- Line{Text: content, Source: w.Name()}:
	case <-ctx.Done():
		return nil
	}
	return nil
}

var _ Source = (*Watcher)(nil)
