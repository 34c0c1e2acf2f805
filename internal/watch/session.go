package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// DefaultDebounce is the quiet period after the last change before a
// batch is synced.
const DefaultDebounce = 10 * time.Second

// eventBufSize bounds the channel between the watcher and the buffer.
const eventBufSize = 256

// errWatcherStopped is returned when the notification source closes while
// the session is still running.
var errWatcherStopped = errors.New("watch: filesystem watcher stopped unexpectedly")

// SessionConfig holds everything a watch session needs.
type SessionConfig struct {
	Root       string
	Descriptor *deployapi.Descriptor
	Client     RemoteClient
	Matcher    *Matcher

	Debounce      time.Duration
	PollInterval  time.Duration
	PollAttempts  int
	NotFoundGrace int

	// Override deletes a same-named deployment before starting.
	Override      bool
	OverrideGrace time.Duration

	// SafetyScanInterval is passed to the LocalWatcher.
	SafetyScanInterval time.Duration

	// ArchiveDir is where full-sync archives are staged. Empty means
	// os.TempDir.
	ArchiveDir string

	Observer Observer
	Logger   *slog.Logger
}

// Session wires the watcher, buffer and dispatcher for one project
// directory. A Session is single-use.
type Session struct {
	root       string
	name       string
	debounce   time.Duration
	override   bool
	logger     *slog.Logger
	watcher    *LocalWatcher
	buffer     *Buffer
	dispatcher *Dispatcher
	overrider  *Overrider
}

// NewSession builds the components of a session from cfg.
func NewSession(cfg *SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	matcher := cfg.Matcher
	if matcher == nil {
		matcher = NewMatcher(nil, nil)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher := NewLocalWatcher(matcher, logger)
	watcher.SafetyScanInterval = cfg.SafetyScanInterval

	archiver := NewArchiveBuilder(logger)
	archiver.TempDir = cfg.ArchiveDir

	poller := NewPoller(cfg.Client, cfg.PollInterval, cfg.PollAttempts, cfg.NotFoundGrace, logger)

	dispatcher := NewDispatcher(&DispatcherConfig{
		Root:       cfg.Root,
		Descriptor: cfg.Descriptor,
		Client:     cfg.Client,
		Matcher:    matcher,
		Archiver:   archiver,
		Poller:     poller,
		Observer:   cfg.Observer,
		Logger:     logger,
	})

	return &Session{
		root:       cfg.Root,
		name:       cfg.Descriptor.Name,
		debounce:   debounce,
		override:   cfg.Override,
		logger:     logger,
		watcher:    watcher,
		buffer:     NewBuffer(logger),
		dispatcher: dispatcher,
		overrider:  NewOverrider(cfg.Client, cfg.OverrideGrace, logger),
	}
}

// State returns the dispatcher's current state.
func (s *Session) State() State {
	return s.dispatcher.State()
}

// Run watches the project until ctx is canceled. Failing to read the root,
// to start the watcher, to clear an overridden deployment, or to reach the
// API during initialization ends the session with an error. Cancellation
// is a clean shutdown: Run returns nil and buffered changes are dropped.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("watch session starting",
		slog.String("root", s.root),
		slog.String("deployment", s.name),
		slog.Duration("debounce", s.debounce),
		slog.Bool("override", s.override),
	)

	if s.override {
		if err := s.overrider.EnsureClean(ctx, s.name); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}

	if err := s.watcher.Open(s.root); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	events := make(chan PendingChange, eventBufSize)

	// Held until initialization completes, so changes made during the
	// initial full sync wait for the first debounce window after it.
	s.buffer.Hold()
	ready := s.buffer.FlushDebounced(gctx, s.debounce)

	g.Go(func() error {
		if err := s.watcher.Watch(gctx, events); err != nil {
			return err
		}

		if gctx.Err() == nil {
			return errWatcherStopped
		}

		return nil
	})

	g.Go(func() error {
		s.bridge(gctx, events)
		return nil
	})

	if err := s.dispatcher.Initialize(gctx); err != nil {
		cancel()
		_ = g.Wait()

		if ctx.Err() != nil {
			return nil
		}

		return err
	}

	s.buffer.Release()

	g.Go(func() error {
		return s.dispatcher.Run(gctx, ready, s.buffer)
	})

	err := g.Wait()

	s.logger.Info("watch session stopped", slog.String("deployment", s.name))

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch: session: %w", err)
	}

	return nil
}

// bridge applies watcher output to the buffer on a single goroutine.
func (s *Session) bridge(ctx context.Context, events <-chan PendingChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-events:
			s.buffer.Record(c)
		}
	}
}
