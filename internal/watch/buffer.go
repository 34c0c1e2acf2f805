// Buffer coalesces file changes by path, preparing them for the dispatcher.
// It sits between the local watcher and the dispatcher: the watcher records
// one PendingChange per event, Buffer keeps only the latest per path, and a
// debounce loop hands the whole set over after a quiet period.
package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Buffer holds the pending-changes set. All methods are safe for
// concurrent use.
//
// While the buffer is held (a sync is in flight) debounce expiries do not
// take a batch; the changes stay buffered and the timer is re-armed when the
// holder calls Release.
type Buffer struct {
	mu       sync.Mutex
	pending  map[string]PendingChange
	held     bool
	deferred bool          // a debounce expiry happened while held
	notify   chan struct{} // signaled on Record when FlushDebounced is active; nil otherwise
	release  chan struct{}
	logger   *slog.Logger
}

// NewBuffer creates an empty Buffer ready to accept changes.
func NewBuffer(logger *slog.Logger) *Buffer {
	logger.Debug("buffer created")

	return &Buffer{
		pending: make(map[string]PendingChange),
		release: make(chan struct{}, 1),
		logger:  logger,
	}
}

// Record stores c as the pending change for its path, replacing any earlier
// change for the same path (last write wins, including the kind), and
// restarts the debounce timer.
func (b *Buffer) Record(c PendingChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[c.Path] = c

	b.logger.Debug("change recorded",
		slog.String("path", c.Path),
		slog.String("kind", c.Kind.String()),
		slog.Int("size", len(c.Content)),
	)

	b.signalNew()
}

// Len returns the number of distinct paths currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// Hold marks a sync as in flight. The hold is the session's syncing flag:
// debounce expiries are deferred until Release. Holding an already held
// buffer is a no-op.
func (b *Buffer) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.held = true
}

// Release ends the hold taken by Hold or by a debounced hand-off. If a
// debounce expiry was deferred, a fresh debounce window starts now.
func (b *Buffer) Release() {
	b.mu.Lock()
	b.held = false
	b.mu.Unlock()

	select {
	case b.release <- struct{}{}:
	default:
	}
}

// FlushDebounced returns a channel that emits batches of changes after a
// debounce window elapses with no new changes. The timer restarts on every
// Record. Handing a batch over holds the buffer: the consumer must call
// Release once it has finished with the batch. The channel is closed when
// the context is canceled; buffered changes are then discarded, never
// flushed.
func (b *Buffer) FlushDebounced(ctx context.Context, debounce time.Duration) <-chan []PendingChange {
	out := make(chan []PendingChange, 1)

	b.mu.Lock()
	b.notify = make(chan struct{}, 1)
	b.mu.Unlock()

	go b.debounceLoop(ctx, debounce, out)

	return out
}

// debounceLoop is the goroutine driving FlushDebounced.
func (b *Buffer) debounceLoop(ctx context.Context, debounce time.Duration, out chan<- []PendingChange) {
	defer close(out)

	timer := time.NewTimer(debounce)
	timer.Stop() // start idle — no changes yet
	defer timer.Stop()

	timerActive := false

	reset := func() {
		if !timer.Stop() && timerActive {
			select {
			case <-timer.C:
			default:
			}
		}

		timer.Reset(debounce)
		timerActive = true
	}

	for {
		select {
		case <-ctx.Done():
			if n := b.Len(); n > 0 {
				b.logger.Info("discarding unsynced changes on shutdown", slog.Int("paths", n))
			}

			return

		case <-b.notify:
			reset()

		case <-b.release:
			if b.takeDeferred() {
				reset()
			}

		case <-timer.C:
			timerActive = false

			batch := b.takeBatch()
			if batch == nil {
				continue
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// takeBatch drains the buffer and holds it, unless it is already held, in
// which case the expiry is remembered for Release.
func (b *Buffer) takeBatch() []PendingChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.held {
		if len(b.pending) > 0 {
			b.deferred = true
			b.logger.Debug("debounce expired during sync, deferring", slog.Int("paths", len(b.pending)))
		}

		return nil
	}

	batch := b.drainLocked()
	if batch != nil {
		b.held = true
	}

	return batch
}

// takeDeferred reports and clears a deferred expiry.
func (b *Buffer) takeDeferred() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.deferred && len(b.pending) > 0
	b.deferred = false

	return d
}

// drainLocked returns the sorted contents and empties the map. Caller holds mu.
func (b *Buffer) drainLocked() []PendingChange {
	if len(b.pending) == 0 {
		b.logger.Debug("buffer flushed (empty)")
		return nil
	}

	result := sortedChanges(b.pending)
	b.pending = make(map[string]PendingChange)

	b.logger.Info("buffer flushed", slog.Int("paths", len(result)))

	return result
}

// signalNew sends a non-blocking notification to the debounce goroutine.
// Called while the mutex is held. The notify channel is nil until
// FlushDebounced is called.
func (b *Buffer) signalNew() {
	if b.notify == nil {
		return
	}

	select {
	case b.notify <- struct{}{}:
	default:
		// Already signaled — debounce goroutine hasn't consumed yet.
	}
}

func sortedChanges(m map[string]PendingChange) []PendingChange {
	if len(m) == 0 {
		return nil
	}

	result := make([]PendingChange, 0, len(m))
	for _, c := range m {
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})

	return result
}
