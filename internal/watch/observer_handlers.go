package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// handleEvent turns one fsnotify event into zero or more PendingChanges.
// The event kind only decides whether to look at the disk; what is emitted
// depends on what the path is now.
func (w *LocalWatcher) handleEvent(ctx context.Context, ev fsnotify.Event, out chan<- PendingChange) {
	// Mode changes are not shipped.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	rel, ok := w.relPath(ev.Name)
	if !ok {
		return
	}

	if w.matcher.IsExcluded(rel) {
		w.logger.Debug("skipping excluded path", slog.String("path", rel))
		return
	}

	info, err := os.Lstat(ev.Name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.handleGone(ctx, ev.Name, rel, out)
			return
		}

		w.logger.Warn("stat failed, skipping event",
			slog.String("path", rel), slog.String("error", err.Error()))

		return
	}

	switch {
	case info.IsDir():
		if ev.Has(fsnotify.Create) {
			w.handleNewDirectory(ctx, ev.Name, rel, out)
		}

	case info.Mode().IsRegular():
		w.emitFile(ctx, ev.Name, rel, out)

	default:
		w.logger.Debug("skipping non-regular file", slog.String("path", rel))
	}
}

// handleGone emits deletes for a path that no longer exists. When the path
// was a directory, every known file beneath it is deleted and the directory
// itself produces nothing.
func (w *LocalWatcher) handleGone(ctx context.Context, fsPath, rel string, out chan<- PendingChange) {
	prefix := rel + "/"

	_, wasDir := w.dirs[rel]

	var children []string

	for p := range w.known {
		if strings.HasPrefix(p, prefix) {
			children = append(children, p)
		}
	}

	if !wasDir && len(children) == 0 {
		delete(w.known, rel)
		w.send(ctx, out, PendingChange{Path: rel, Kind: ChangeDelete})

		return
	}

	// The watch on a removed directory is already gone on most
	// platforms; the error is expected and ignored.
	_ = w.watcher.Remove(fsPath)

	delete(w.dirs, rel)

	for d := range w.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}

	sort.Strings(children)

	for _, p := range children {
		delete(w.known, p)
		w.send(ctx, out, PendingChange{Path: p, Kind: ChangeDelete})
	}

	w.logger.Debug("directory removed",
		slog.String("path", rel), slog.Int("files", len(children)))
}

// handleNewDirectory watches a freshly created directory and emits every
// file already inside it. Files can land in a new directory before its
// watch is registered (mkdir -p && cp, archive extraction).
func (w *LocalWatcher) handleNewDirectory(ctx context.Context, fsPath, rel string, out chan<- PendingChange) {
	var files int

	err := filepath.WalkDir(fsPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error in new directory",
				slog.String("path", p), slog.String("error", walkErr.Error()))

			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		childRel, ok := w.relPath(p)
		if !ok || w.matcher.IsExcluded(childRel) {
			return skipEntry(d)
		}

		switch {
		case d.IsDir():
			if err := w.watcher.Add(p); err != nil {
				w.logger.Warn("failed to add watch",
					slog.String("path", childRel), slog.String("error", err.Error()))
			}

			w.dirs[childRel] = struct{}{}

		case d.Type().IsRegular():
			w.emitFile(ctx, p, childRel, out)
			files++
		}

		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("scanning new directory failed",
			slog.String("path", rel), slog.String("error", err.Error()))
	}

	w.logger.Debug("new directory watched", slog.String("path", rel), slog.Int("files", files))
}

// emitFile reads the current content of a regular file and sends an add or
// modify. A read failure is logged and the event skipped; the next event
// for the path retries.
func (w *LocalWatcher) emitFile(ctx context.Context, fsPath, rel string, out chan<- PendingChange) {
	info, err := os.Stat(fsPath)
	if err != nil {
		w.logger.Debug("file vanished before read",
			slog.String("path", rel), slog.String("error", err.Error()))

		return
	}

	content, err := os.ReadFile(fsPath)
	if err != nil {
		w.logger.Warn("failed to read changed file",
			slog.String("path", rel), slog.String("error", err.Error()))

		return
	}

	kind := ChangeModify
	if _, seen := w.known[rel]; !seen {
		kind = ChangeAdd
	}

	w.known[rel] = stampOf(info)
	w.send(ctx, out, PendingChange{Path: rel, Kind: kind, Content: content})
}

// safetyScan walks the whole tree and emits changes the notification
// source missed: new files, files whose size or mtime moved, and known
// files that are no longer present.
func (w *LocalWatcher) safetyScan(ctx context.Context, out chan<- PendingChange) {
	seen := make(map[string]bool, len(w.known))

	var emitted int

	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p == w.root {
			return nil
		}

		rel, ok := w.relPath(p)
		if !ok || w.matcher.IsExcluded(rel) {
			return skipEntry(d)
		}

		if !d.Type().IsRegular() {
			return nil
		}

		seen[rel] = true

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if stamp, known := w.known[rel]; known && stamp == stampOf(info) {
			return nil
		}

		w.emitFile(ctx, p, rel, out)
		emitted++

		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("safety scan failed", slog.String("error", err.Error()))
		}

		return
	}

	var gone []string

	for p := range w.known {
		if !seen[p] {
			gone = append(gone, p)
		}
	}

	sort.Strings(gone)

	for _, p := range gone {
		delete(w.known, p)
		w.send(ctx, out, PendingChange{Path: p, Kind: ChangeDelete})
	}

	if emitted+len(gone) > 0 {
		w.logger.Info("safety scan found missed changes",
			slog.Int("changed", emitted), slog.Int("deleted", len(gone)))
	}
}
