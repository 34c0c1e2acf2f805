package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// Poller defaults.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultPollAttempts  = 60
	DefaultNotFoundGrace = 3
)

// PollOutcome is how a poll ended.
type PollOutcome string

// Poll outcomes.
const (
	PollSuccess  PollOutcome = "success"
	PollFailed   PollOutcome = "failed"
	PollTimedOut PollOutcome = "timed_out"
	PollNotFound PollOutcome = "not_found"
)

// ErrDeploymentNotFound is the error attached to a PollNotFound result.
var ErrDeploymentNotFound = errors.New("watch: deployment not found")

// errPollStop ends the retry loop without another attempt.
var errPollStop = errors.New("poll stopped")

// PollResult is the final state seen by a poll.
type PollResult struct {
	Outcome  PollOutcome
	Status   deployapi.Status
	Error    string
	Attempts int
}

// Lister is the part of the deployment API the poller needs.
type Lister interface {
	ListDeployments(ctx context.Context) ([]deployapi.Deployment, error)
}

// Poller queries a deployment's status at a constant interval until it
// reaches a terminal status, disappears, or the attempt budget runs out.
type Poller struct {
	lister        Lister
	interval      time.Duration
	maxAttempts   int
	notFoundGrace int
	logger        *slog.Logger

	// OnProgress, when set, is called after every query.
	OnProgress func(*PollProgress)
}

// NewPoller creates a Poller. Non-positive values select the defaults.
func NewPoller(lister Lister, interval time.Duration, maxAttempts, notFoundGrace int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}

	if notFoundGrace <= 0 {
		notFoundGrace = DefaultNotFoundGrace
	}

	return &Poller{
		lister:        lister,
		interval:      interval,
		maxAttempts:   maxAttempts,
		notFoundGrace: notFoundGrace,
		logger:        logger,
	}
}

// Poll waits for name to settle. It returns an error only when ctx is
// canceled; every other ending is described by the result's Outcome.
// A terminal status stops polling immediately.
func (p *Poller) Poll(ctx context.Context, name string) (*PollResult, error) {
	result := &PollResult{Outcome: PollTimedOut, Status: deployapi.StatusUnknown}
	missing := 0

	backoff := retry.WithMaxRetries(uint64(p.maxAttempts-1), retry.NewConstant(p.interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result.Attempts++

		list, listErr := p.lister.ListDeployments(ctx)
		if listErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			p.logger.Warn("status query failed",
				slog.String("deployment", name),
				slog.Int("attempt", result.Attempts),
				slog.String("error", listErr.Error()),
			)

			return retry.RetryableError(listErr)
		}

		d := deployapi.Find(list, name)

		status := deployapi.StatusUnknown
		if d != nil {
			status = d.Status
		}

		p.report(name, result.Attempts, status, list)

		if d == nil {
			missing++
			result.Status = deployapi.StatusUnknown

			if missing > p.notFoundGrace {
				result.Outcome = PollNotFound
				result.Error = fmt.Sprintf("deployment %q not found", name)

				return errPollStop
			}

			return retry.RetryableError(ErrDeploymentNotFound)
		}

		missing = 0
		result.Status = d.Status
		result.Error = d.Error

		switch d.Status {
		case deployapi.StatusSuccess:
			result.Outcome = PollSuccess
			return nil
		case deployapi.StatusFailed:
			result.Outcome = PollFailed
			return errPollStop
		default:
			return retry.RetryableError(fmt.Errorf("deployment %s is %s", name, d.Status))
		}
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	if err != nil && !errors.Is(err, errPollStop) {
		p.logger.Debug("poll budget exhausted",
			slog.String("deployment", name), slog.String("last", err.Error()))
	}

	p.logger.Info("poll finished",
		slog.String("deployment", name),
		slog.String("outcome", string(result.Outcome)),
		slog.String("status", string(result.Status)),
		slog.Int("attempts", result.Attempts),
	)

	return result, nil
}

func (p *Poller) report(name string, attempt int, status deployapi.Status, list []deployapi.Deployment) {
	p.logger.Debug("deployment status",
		slog.String("deployment", name),
		slog.Int("attempt", attempt),
		slog.String("status", string(status)),
	)

	if p.OnProgress == nil {
		return
	}

	progress := &PollProgress{
		Deployment:  name,
		Attempt:     attempt,
		MaxAttempts: p.maxAttempts,
		Status:      status,
	}

	if attempt == 1 {
		progress.Listing = list
	}

	p.OnProgress(progress)
}
