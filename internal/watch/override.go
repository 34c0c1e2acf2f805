package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// DefaultOverrideGrace is how long to wait after deleting a deployment
// before recreating it under the same name.
const DefaultOverrideGrace = 2 * time.Second

// Overrider removes an existing same-named deployment before a session
// starts, so the session begins from an empty remote.
type Overrider struct {
	client    RemoteClient
	grace     time.Duration
	logger    *slog.Logger
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewOverrider creates an Overrider. A non-positive grace selects the
// default.
func NewOverrider(client RemoteClient, grace time.Duration, logger *slog.Logger) *Overrider {
	if grace <= 0 {
		grace = DefaultOverrideGrace
	}

	return &Overrider{
		client:    client,
		grace:     grace,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// EnsureClean deletes the deployment called name if it exists and waits
// for the grace period. A missing deployment is not an error.
func (o *Overrider) EnsureClean(ctx context.Context, name string) error {
	list, err := o.client.ListDeployments(ctx)
	if err != nil {
		return fmt.Errorf("watch: override: listing deployments: %w", err)
	}

	if deployapi.Find(list, name) == nil {
		o.logger.Debug("override: no existing deployment", slog.String("deployment", name))
		return nil
	}

	o.logger.Info("override: deleting existing deployment", slog.String("deployment", name))

	// Already gone between list and delete counts as clean.
	if err := o.client.DeleteDeployment(ctx, name); err != nil && !errors.Is(err, deployapi.ErrNotFound) {
		return fmt.Errorf("watch: override: deleting %s: %w", name, err)
	}

	if err := o.sleepFunc(ctx, o.grace); err != nil {
		return err
	}

	return nil
}
