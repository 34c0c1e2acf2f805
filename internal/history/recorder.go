package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/liftoff/internal/watch"
)

// recordTimeout bounds a single insert so a locked database cannot stall
// the dispatcher.
const recordTimeout = 5 * time.Second

// Recorder is a watch.Observer that stores every finished cycle. Storage
// failures are logged and never interrupt the session.
type Recorder struct {
	watch.NopObserver

	store  *Store
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// SyncFinished records report.
func (r *Recorder) SyncFinished(report *watch.CycleReport) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.Record(ctx, FromReport(report)); err != nil {
		r.logger.Warn("failed to record sync cycle",
			slog.String("cycle", report.ID),
			slog.String("error", err.Error()),
		)
	}
}

// FromReport converts a watch cycle report into a storable Cycle.
func FromReport(report *watch.CycleReport) *Cycle {
	c := &Cycle{
		ID:          report.ID,
		Deployment:  report.Deployment,
		Kind:        string(report.Kind),
		Updated:     report.Updated,
		Deleted:     report.Deleted,
		ArchiveSize: report.ArchiveSize,
		Action:      string(report.Action),
		Outcome:     string(report.Outcome),
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
	}

	if report.Err != nil {
		c.Error = report.Err.Error()
	}

	return c
}
