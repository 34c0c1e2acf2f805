package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// ErrDeploymentFailed marks a cycle whose build or restart the service
// reported as failed.
var ErrDeploymentFailed = errors.New("watch: deployment failed")

// Releaser ends a hold on the change buffer. Satisfied by *Buffer.
type Releaser interface {
	Release()
}

// DispatcherConfig holds the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Root       string
	Descriptor *deployapi.Descriptor
	Client     RemoteClient
	Matcher    *Matcher
	Archiver   *ArchiveBuilder
	Poller     *Poller
	Observer   Observer
	Logger     *slog.Logger
}

// Dispatcher drives the sync state machine. Initialize runs once at
// session start; after that every debounced batch goes through Flush.
// Flush is not reentrant: one goroutine owns the dispatcher, which keeps
// syncs and polls strictly sequential. The in-flight guard against
// overlapping batches is the Buffer hold released by Run.
type Dispatcher struct {
	root     string
	desc     *deployapi.Descriptor
	client   RemoteClient
	matcher  *Matcher
	archiver *ArchiveBuilder
	poller   *Poller
	observer Observer
	logger   *slog.Logger

	mu    sync.Mutex
	state State

	// needFull is set when the deployment was created but its full sync
	// has not completed; the next flush retries it instead of sending
	// the batch incrementally.
	needFull bool

	nowFunc func() time.Time
}

// NewDispatcher creates a Dispatcher in the Idle state. When the poller
// has no progress callback, the observer's PollProgress is installed.
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	if cfg.Poller != nil && cfg.Poller.OnProgress == nil {
		cfg.Poller.OnProgress = obs.PollProgress
	}

	return &Dispatcher{
		root:     cfg.Root,
		desc:     cfg.Descriptor,
		client:   cfg.Client,
		matcher:  cfg.Matcher,
		archiver: cfg.Archiver,
		poller:   cfg.Poller,
		observer: obs,
		logger:   cfg.Logger,
		state:    StateIdle,
		nowFunc:  time.Now,
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

func (d *Dispatcher) setState(to State) {
	d.mu.Lock()
	from := d.state
	d.state = to
	d.mu.Unlock()

	if from == to {
		return
	}

	d.logger.Debug("dispatcher state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)

	d.observer.StateChanged(from, to)
}

// Initialize looks the deployment up. An existing deployment, in any
// status, is left alone and later changes go incrementally. A missing one
// is created and receives a full sync. Errors from the API are returned
// and end the session; a failed full sync is reported and retried on the
// next flush.
func (d *Dispatcher) Initialize(ctx context.Context) error {
	d.setState(StateInitializing)

	list, err := d.client.ListDeployments(ctx)
	if err != nil {
		d.setState(StateFailed)
		return fmt.Errorf("watch: looking up deployment %s: %w", d.desc.Name, err)
	}

	if existing := deployapi.Find(list, d.desc.Name); existing != nil {
		d.logger.Info("deployment exists, skipping full sync",
			slog.String("deployment", existing.Name),
			slog.String("status", string(existing.Status)),
		)
		d.setState(StateIdle)

		return nil
	}

	d.logger.Info("deployment not found, creating", slog.String("deployment", d.desc.Name))

	if err := d.client.CreateDeployment(ctx, d.desc); err != nil {
		d.setState(StateFailed)
		return fmt.Errorf("watch: creating deployment %s: %w", d.desc.Name, err)
	}

	d.needFull = true

	d.fullSync(ctx)

	return nil
}

// Flush runs one sync cycle for batch.
func (d *Dispatcher) Flush(ctx context.Context, batch []PendingChange) {
	if d.needFull {
		d.logger.Info("retrying full sync", slog.Int("changes", len(batch)))
		d.fullSync(ctx)

		return
	}

	d.incrementalSync(ctx, batch)
}

// Run consumes debounced batches until ctx is canceled or batches is
// closed, releasing gate after each cycle so the buffer can hand over
// the next one.
func (d *Dispatcher) Run(ctx context.Context, batches <-chan []PendingChange, gate Releaser) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case batch, ok := <-batches:
			if !ok {
				return nil
			}

			d.Flush(ctx, batch)
			gate.Release()
		}
	}
}

func (d *Dispatcher) newReport(kind SyncKind) *CycleReport {
	return &CycleReport{
		ID:         uuid.NewString(),
		Deployment: d.desc.Name,
		Kind:       kind,
		Action:     deployapi.ActionNone,
		StartedAt:  d.nowFunc(),
	}
}

func (d *Dispatcher) fullSync(ctx context.Context) {
	report := d.newReport(SyncFull)

	d.setState(StateFullSyncing)
	d.observer.SyncStarted(SyncFull, 0, 0)

	archive, err := d.archiver.Build(ctx, d.root, d.matcher)
	if err != nil {
		d.fail(ctx, report, fmt.Errorf("building archive: %w", err))
		return
	}

	defer func() {
		if rmErr := archive.Remove(); rmErr != nil {
			d.logger.Warn("failed to remove archive", slog.String("error", rmErr.Error()))
		}
	}()

	report.Updated = archive.Files
	report.ArchiveSize = archive.Size

	if err := d.client.UploadArchive(ctx, d.desc.Name, archive.Path, d.desc); err != nil {
		d.fail(ctx, report, fmt.Errorf("uploading archive: %w", err))
		return
	}

	d.needFull = false
	report.Action = deployapi.ActionRebuild

	d.poll(ctx, report)
}

func (d *Dispatcher) incrementalSync(ctx context.Context, batch []PendingChange) {
	updated, deleted := d.partition(batch)
	if len(updated) == 0 && len(deleted) == 0 {
		d.logger.Debug("nothing to sync")
		return
	}

	report := d.newReport(SyncIncremental)
	report.Updated = len(updated)
	report.Deleted = len(deleted)

	d.setState(StateIncrementalSyncing)
	d.observer.SyncStarted(SyncIncremental, len(updated), len(deleted))

	// The batch is discarded on failure; the next edit produces a fresh one.
	result, err := d.client.UploadIncremental(ctx, d.desc.Name, updated, deleted, d.desc.Mode)
	if err != nil {
		d.fail(ctx, report, fmt.Errorf("incremental sync: %w", err))
		return
	}

	report.Action = result.Action

	if !result.Action.NeedsPoll() {
		report.Outcome = OutcomeSynced
		d.finish(report)
		d.setState(StateIdle)

		return
	}

	d.poll(ctx, report)
}

// partition splits a batch into uploads and deletions, each sorted by
// path. Excluded paths are dropped.
func (d *Dispatcher) partition(batch []PendingChange) ([]deployapi.FileUpload, []string) {
	var (
		updated []deployapi.FileUpload
		deleted []string
	)

	for _, c := range batch {
		if d.matcher.IsExcluded(c.Path) {
			d.logger.Warn("dropping excluded path from changeset", slog.String("path", c.Path))
			continue
		}

		switch c.Kind {
		case ChangeAdd, ChangeModify:
			updated = append(updated, deployapi.FileUpload{Path: c.Path, Content: c.Content})
		case ChangeDelete:
			deleted = append(deleted, c.Path)
		}
	}

	sort.Slice(updated, func(i, j int) bool { return updated[i].Path < updated[j].Path })
	sort.Strings(deleted)

	return updated, deleted
}

func (d *Dispatcher) poll(ctx context.Context, report *CycleReport) {
	d.setState(StatePolling)

	res, err := d.poller.Poll(ctx, d.desc.Name)
	if err != nil {
		d.fail(ctx, report, fmt.Errorf("polling status: %w", err))

		return
	}

	switch res.Outcome {
	case PollSuccess:
		report.Outcome = OutcomeDeployed
		d.finish(report)
		d.setState(StateIdle)

	case PollTimedOut:
		report.Outcome = OutcomeTimedOut
		d.logger.Warn("deployment still in progress after poll budget",
			slog.String("deployment", d.desc.Name),
			slog.String("status", string(res.Status)),
			slog.Int("attempts", res.Attempts),
		)
		d.finish(report)
		d.setState(StateIdle)

	case PollNotFound:
		report.Outcome = OutcomeFailed
		report.Err = fmt.Errorf("%w: %s", ErrDeploymentNotFound, d.desc.Name)
		d.finish(report)
		d.setState(StateFailed)

	default:
		report.Outcome = OutcomeFailed
		report.Err = ErrDeploymentFailed

		if res.Error != "" {
			report.Err = fmt.Errorf("%w: %s", ErrDeploymentFailed, res.Error)
		}

		d.finish(report)
		d.setState(StateFailed)
	}
}

// abandon drops a cycle cut short by shutdown. It is not reported as
// finished, so observers never see it.
func (d *Dispatcher) abandon(report *CycleReport) {
	d.logger.Info("sync cycle interrupted by shutdown",
		slog.String("cycle", report.ID),
		slog.String("kind", string(report.Kind)),
	)
}

func (d *Dispatcher) fail(ctx context.Context, report *CycleReport, err error) {
	if ctx.Err() != nil {
		d.abandon(report)
		return
	}

	report.Outcome = OutcomeError
	report.Err = err

	d.logger.Error("sync cycle failed",
		slog.String("cycle", report.ID),
		slog.String("kind", string(report.Kind)),
		slog.String("error", err.Error()),
	)

	d.finish(report)
	d.setState(StateFailed)
}

func (d *Dispatcher) finish(report *CycleReport) {
	report.FinishedAt = d.nowFunc()

	d.logger.Info("sync cycle finished",
		slog.String("cycle", report.ID),
		slog.String("kind", string(report.Kind)),
		slog.String("outcome", string(report.Outcome)),
		slog.String("action", string(report.Action)),
		slog.Int("updated", report.Updated),
		slog.Int("deleted", report.Deleted),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	d.observer.SyncFinished(report)
}
