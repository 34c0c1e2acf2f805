package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// ErrNotDirectory is returned when the watch root is not a directory.
var ErrNotDirectory = errors.New("watch: root is not a directory")

// Watcher error backoff and safety scan timing.
const (
	watchErrInitBackoff       = 1 * time.Second
	watchErrMaxBackoff        = 30 * time.Second
	watchErrBackoffMult       = 2
	defaultSafetyScanInterval = 5 * time.Minute
)

// FsWatcher abstracts the filesystem notification source so tests can
// drive the watch loop with synthetic events.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher to FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// fileStamp is the last observed size and mtime of a tracked file, used by
// the safety scan to spot changes that notifications missed.
type fileStamp struct {
	size  int64
	mtime int64
}

// LocalWatcher turns filesystem notifications under a root directory into
// PendingChanges. Open registers the tree; Watch runs the event loop. The
// known-file and known-directory sets are confined to the goroutine running
// Watch after Open.
type LocalWatcher struct {
	matcher *Matcher
	logger  *slog.Logger

	root    string
	watcher FsWatcher
	known   map[string]fileStamp
	dirs    map[string]struct{}

	// SafetyScanInterval is how often the whole tree is rescanned to catch
	// missed notifications. Zero selects the default; negative disables it.
	SafetyScanInterval time.Duration

	newWatcher func() (FsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewLocalWatcher creates a LocalWatcher that skips paths excluded by m.
func NewLocalWatcher(m *Matcher, logger *slog.Logger) *LocalWatcher {
	return &LocalWatcher{
		matcher:    m,
		logger:     logger,
		known:      make(map[string]fileStamp),
		dirs:       make(map[string]struct{}),
		newWatcher: newFsnotifyWatcher,
		sleepFunc:  timeSleep,
	}
}

// Open verifies root, creates the notification source, and registers a
// watch on every non-excluded directory. Files already present are
// recorded as known, so their first change is reported as a modify.
func (w *LocalWatcher) Open(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch: reading root %s: %w", root, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating filesystem watcher: %w", err)
	}

	w.root = root
	w.watcher = fw

	if err := fw.Add(root); err != nil {
		fw.Close()
		return fmt.Errorf("watch: watching root %s: %w", root, err)
	}

	dirs, files, err := w.registerTree(root)
	if err != nil {
		fw.Close()
		return err
	}

	w.logger.Info("local watcher registered",
		slog.String("root", root),
		slog.Int("directories", dirs),
		slog.Int("files", files),
	)

	return nil
}

// registerTree walks dir, adding watches on subdirectories and stamps for
// files without emitting changes.
func (w *LocalWatcher) registerTree(dir string) (int, int, error) {
	var dirs, files int

	err := filepath.WalkDir(dir, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error", slog.String("path", fsPath), slog.String("error", walkErr.Error()))
			return skipEntry(d)
		}

		if fsPath == dir {
			return nil
		}

		rel, ok := w.relPath(fsPath)
		if !ok || w.matcher.IsExcluded(rel) {
			return skipEntry(d)
		}

		switch {
		case d.IsDir():
			if err := w.watcher.Add(fsPath); err != nil {
				w.logger.Warn("failed to add watch",
					slog.String("path", rel), slog.String("error", err.Error()))
			}

			w.dirs[rel] = struct{}{}
			dirs++
		case d.Type().IsRegular():
			if info, err := d.Info(); err == nil {
				w.known[rel] = stampOf(info)
				files++
			}
		}

		return nil
	})
	if err != nil {
		return dirs, files, fmt.Errorf("watch: walking %s: %w", dir, err)
	}

	return dirs, files, nil
}

// Watch processes notifications until ctx is canceled, sending a
// PendingChange for every relevant file event. It closes the notification
// source on return and returns nil on clean shutdown.
func (w *LocalWatcher) Watch(ctx context.Context, out chan<- PendingChange) error {
	if w.watcher == nil {
		return errors.New("watch: Watch called before Open")
	}
	defer w.watcher.Close()

	w.logger.Info("local watcher started", slog.String("root", w.root))

	scanInterval := w.SafetyScanInterval
	if scanInterval == 0 {
		scanInterval = defaultSafetyScanInterval
	}

	var safetyTick <-chan time.Time

	if scanInterval > 0 {
		ticker := time.NewTicker(scanInterval)
		defer ticker.Stop()

		safetyTick = ticker.C
	}

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("local watcher stopped")
			return nil

		case ev, ok := <-w.watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ctx, ev, out)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-w.watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Exponential backoff prevents a tight loop under sustained
			// errors such as kernel queue overflow.
			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-safetyTick:
			w.safetyScan(ctx, out)
		}
	}
}

// relPath converts an absolute event path to the normalized relative form:
// forward slashes, NFC. ok is false for the root itself and for paths
// outside the root.
func (w *LocalWatcher) relPath(fsPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, fsPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return norm.NFC.String(filepath.ToSlash(rel)), true
}

// send delivers c unless ctx is canceled first. Changes are never dropped
// while the session is running.
func (w *LocalWatcher) send(ctx context.Context, out chan<- PendingChange, c PendingChange) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}

func stampOf(info fs.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), mtime: info.ModTime().UnixNano()}
}

// skipEntry returns filepath.SkipDir for directories (to skip the subtree)
// or nil for files (to continue the walk with the next entry).
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
