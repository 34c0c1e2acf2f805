package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/liftoff/internal/deployapi"
	"github.com/tonimelisma/liftoff/internal/watch"
)

// consoleStyles decorates console lines. Plain styles are identity
// functions, used when stdout is not a terminal.
type consoleStyles struct {
	ok   func(string) string
	warn func(string) string
	fail func(string) string
	dim  func(string) string
}

func plainStyles() consoleStyles {
	id := func(s string) string { return s }

	return consoleStyles{ok: id, warn: id, fail: id, dim: id}
}

func colorStyles() consoleStyles {
	return consoleStyles{
		ok:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true).Render,
		warn: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render,
		fail: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true).Render,
		dim:  lipgloss.NewStyle().Faint(true).Render,
	}
}

// consoleObserver prints one line per notable watch event. In JSON mode it
// prints one object per finished cycle instead.
type consoleObserver struct {
	mu       sync.Mutex
	out      io.Writer
	styles   consoleStyles
	json     bool
	root     string
	lastPoll deployapi.Status
}

func newConsoleObserver(out io.Writer, root string, color, jsonMode bool) *consoleObserver {
	styles := plainStyles()
	if color && !jsonMode {
		styles = colorStyles()
	}

	return &consoleObserver{out: out, styles: styles, json: jsonMode, root: root}
}

func (c *consoleObserver) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *consoleObserver) StateChanged(from, to watch.State) {
	if c.json || to != watch.StateIdle {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("%s\n", c.styles.dim(fmt.Sprintf("Watching %s for changes (was %s)", c.root, from)))
}

func (c *consoleObserver) SyncStarted(kind watch.SyncKind, updated, deleted int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastPoll = ""

	if c.json {
		return
	}

	if kind == watch.SyncFull {
		c.printf("Uploading project archive (full sync)\n")
		return
	}

	c.printf("Syncing %s, %s\n", plural(updated, "changed file"), plural(deleted, "deletion"))
}

func (c *consoleObserver) PollProgress(p *watch.PollProgress) {
	if c.json {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(p.Listing) > 0 {
		entries := make([]string, len(p.Listing))
		for i, d := range p.Listing {
			entries[i] = fmt.Sprintf("%s (%s)", d.Name, d.Status)
		}

		c.printf("%s\n", c.styles.dim("  deployments: "+strings.Join(entries, ", ")))
	}

	if p.Status == c.lastPoll {
		return
	}

	c.lastPoll = p.Status
	c.printf("%s\n", c.styles.dim(fmt.Sprintf("  %s: %s (check %d/%d)", p.Deployment, p.Status, p.Attempt, p.MaxAttempts)))
}

func (c *consoleObserver) SyncFinished(r *watch.CycleReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.json {
		printJSON(c.out, cycleJSONFromReport(r)) //nolint:errcheck // best-effort console output
		return
	}

	took := formatDuration(r.FinishedAt.Sub(r.StartedAt))

	switch r.Outcome {
	case watch.OutcomeSynced:
		c.printf("%s\n", c.styles.ok(fmt.Sprintf("✓ Synced %s in %s, no rebuild needed", plural(r.Updated+r.Deleted, "file"), took)))
	case watch.OutcomeDeployed:
		msg := fmt.Sprintf("✓ Deployed %s (%s) in %s", r.Deployment, r.Action, took)
		if r.ArchiveSize > 0 {
			msg += fmt.Sprintf(", archive %s", humanize.Bytes(uint64(r.ArchiveSize)))
		}

		c.printf("%s\n", c.styles.ok(msg))
	case watch.OutcomeTimedOut:
		c.printf("%s\n", c.styles.warn(fmt.Sprintf("! %s is still building after %s; keeping watch", r.Deployment, took)))
	case watch.OutcomeFailed:
		c.printf("%s\n", c.styles.fail(fmt.Sprintf("✗ Deployment failed: %v", r.Err)))
	default:
		c.printf("%s\n", c.styles.fail(fmt.Sprintf("✗ Sync error: %v", r.Err)))
	}
}

// cycleJSON is the JSON output schema for a sync cycle, shared by the watch
// and history commands.
type cycleJSON struct {
	ID          string    `json:"id"`
	Deployment  string    `json:"deployment"`
	Kind        string    `json:"kind"`
	Updated     int       `json:"updated"`
	Deleted     int       `json:"deleted"`
	ArchiveSize int64     `json:"archive_size,omitempty"`
	Action      string    `json:"action,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

func cycleJSONFromReport(r *watch.CycleReport) cycleJSON {
	out := cycleJSON{
		ID:          r.ID,
		Deployment:  r.Deployment,
		Kind:        string(r.Kind),
		Updated:     r.Updated,
		Deleted:     r.Deleted,
		ArchiveSize: r.ArchiveSize,
		Action:      string(r.Action),
		Outcome:     string(r.Outcome),
		StartedAt:   r.StartedAt.UTC(),
		DurationMS:  r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}

	if r.Err != nil {
		out.Error = r.Err.Error()
	}

	return out
}

// plural formats n with noun, adding "s" unless n is 1.
func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}

	return fmt.Sprintf("%d %ss", n, noun)
}
