// Package watch implements continuous local-to-remote deployment sync:
// filesystem observation, change coalescing with a debounce window, full
// archive and incremental uploads, and deployment status polling.
package watch

import (
	"context"
	"time"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// ChangeKind classifies a pending change.
type ChangeKind int

// Change kinds.
const (
	ChangeAdd ChangeKind = iota
	ChangeModify
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PendingChange is the latest known change for one path. Path is relative
// to the watch root, forward-slash separated and NFC normalized. Content is
// the full file content for adds and modifies; nil for deletes.
type PendingChange struct {
	Path    string
	Kind    ChangeKind
	Content []byte
}

// State is the sync dispatcher's position in its state machine.
type State int

// Dispatcher states.
const (
	StateIdle State = iota
	StateInitializing
	StateFullSyncing
	StateIncrementalSyncing
	StatePolling
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateFullSyncing:
		return "full-syncing"
	case StateIncrementalSyncing:
		return "incremental-syncing"
	case StatePolling:
		return "polling"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncKind distinguishes full archive syncs from incremental ones.
type SyncKind string

// Sync kinds.
const (
	SyncFull        SyncKind = "full"
	SyncIncremental SyncKind = "incremental"
)

// Outcome is how a sync cycle ended.
type Outcome string

// Cycle outcomes.
const (
	OutcomeSynced   Outcome = "synced"    // uploaded, no rebuild or restart needed
	OutcomeDeployed Outcome = "deployed"  // build/restart reached success
	OutcomeTimedOut Outcome = "timed_out" // poll budget exhausted, still in progress
	OutcomeFailed   Outcome = "failed"    // remote reported failure or lost the deployment
	OutcomeError    Outcome = "error"     // local or transport failure before polling
)

// CycleReport summarizes one sync cycle for observers.
type CycleReport struct {
	ID          string
	Deployment  string
	Kind        SyncKind
	Updated     int
	Deleted     int
	ArchiveSize int64
	Action      deployapi.Action
	Outcome     Outcome
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// PollProgress is reported after every status query.
type PollProgress struct {
	Deployment  string
	Attempt     int
	MaxAttempts int
	Status      deployapi.Status
	// Listing is the full deployment listing, set on the first attempt only.
	Listing []deployapi.Deployment
}

// Observer receives progress notifications from a watch session. Calls are
// made from the dispatcher goroutine and must not block for long.
type Observer interface {
	StateChanged(from, to State)
	SyncStarted(kind SyncKind, updated, deleted int)
	SyncFinished(report *CycleReport)
	PollProgress(p *PollProgress)
}

// RemoteClient is the deployment API as seen by the sync engine.
// Satisfied by *deployapi.Client.
type RemoteClient interface {
	ListDeployments(ctx context.Context) ([]deployapi.Deployment, error)
	CreateDeployment(ctx context.Context, d *deployapi.Descriptor) error
	UploadArchive(ctx context.Context, deploymentID, archivePath string, d *deployapi.Descriptor) error
	UploadIncremental(
		ctx context.Context, name string, updated []deployapi.FileUpload, deleted []string, mode deployapi.Mode,
	) (*deployapi.SyncResult, error)
	DeleteDeployment(ctx context.Context, name string) error
}

// timeSleep waits for the given duration or until the context is canceled.
// Components inject it through their sleepFunc field for testability.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
