package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

// startSession runs a Session over root with a fake notification source
// and returns a stop function that cancels it and returns Run's error.
func startSession(
	t *testing.T, root string, c *fakeClient, debounce time.Duration, override bool,
) (*Session, *fakeFsWatcher, func() error) {
	t.Helper()

	fw := newFakeFsWatcher()

	s := NewSession(&SessionConfig{
		Root:               root,
		Descriptor:         &deployapi.Descriptor{Name: "web", Mode: deployapi.ModePreview},
		Client:             c,
		Debounce:           debounce,
		PollInterval:       time.Millisecond,
		PollAttempts:       5,
		Override:           override,
		SafetyScanInterval: -1,
		Logger:             testLogger(t),
	})
	s.watcher.newWatcher = func() (FsWatcher, error) { return fw, nil }
	s.overrider.sleepFunc = noSleep
	s.dispatcher.archiver.TempDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	stop := func() error {
		cancel()

		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("session did not stop")
			return nil
		}
	}

	t.Cleanup(func() { cancel() })

	return s, fw, stop
}

func TestSession_EmptyRemoteArchiveBeforeIncremental(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.html":            "<h1>v1</h1>",
		"node_modules/lib/l.js": "lib",
		"dist/app.js":           "built",
	})

	c := &fakeClient{}
	s, fw, stop := startSession(t, root, c, 30*time.Millisecond, false)

	require.Eventually(t, func() bool { return c.archiveCount() == 1 && s.State() == StateIdle },
		5*time.Second, 5*time.Millisecond)

	p := filepath.Join(root, "index.html")
	require.NoError(t, os.WriteFile(p, []byte("<h1>v2</h1>"), 0o600))
	fw.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

	require.Eventually(t, func() bool { return c.incrementalCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	ops := c.opsSnapshot()
	archiveAt, syncAt := -1, -1

	for i, op := range ops {
		switch op {
		case "archive":
			archiveAt = i
		case "sync":
			syncAt = i
		}
	}

	assert.Less(t, archiveAt, syncAt, "archive upload precedes any incremental sync: %v", ops)

	c.mu.Lock()
	defer c.mu.Unlock()

	assert.Equal(t, map[string]string{"index.html": "<h1>v1</h1>"}, c.archives[0].Entries)
	assert.Equal(t, map[string]string{"index.html": "<h1>v2</h1>"}, c.incrementals[0].Updated)
}

func TestSession_TwoEditsOneIncrementalCall(t *testing.T) {
	t.Parallel()

	const debounce = 150 * time.Millisecond

	root := t.TempDir()
	writeTree(t, root, map[string]string{"index.html": "original"})

	c := &fakeClient{deployments: []deployapi.Deployment{{Name: "web", Status: deployapi.StatusSuccess}}}
	s, fw, stop := startSession(t, root, c, debounce, false)

	require.Eventually(t, func() bool { return s.State() == StateIdle && len(c.opsSnapshot()) == 1 },
		5*time.Second, 5*time.Millisecond)

	p := filepath.Join(root, "index.html")

	require.NoError(t, os.WriteFile(p, []byte("first edit"), 0o600))
	fw.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

	time.Sleep(debounce / 5)

	require.NoError(t, os.WriteFile(p, []byte("second edit"), 0o600))
	fw.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

	require.Eventually(t, func() bool { return c.incrementalCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	// Nothing else arrives after the burst.
	time.Sleep(3 * debounce)
	require.NoError(t, stop())

	c.mu.Lock()
	defer c.mu.Unlock()

	require.Len(t, c.incrementals, 1)
	assert.Equal(t, map[string]string{"index.html": "second edit"}, c.incrementals[0].Updated)
	assert.Empty(t, c.incrementals[0].Deleted)
	assert.Equal(t, deployapi.ModePreview, c.incrementals[0].Mode)
}

func TestSession_OverrideDeletesThenFullSyncs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"index.html": "x"})

	c := &fakeClient{deployments: []deployapi.Deployment{{Name: "web", Status: deployapi.StatusFailed}}}
	_, _, stop := startSession(t, root, c, 30*time.Millisecond, true)

	require.Eventually(t, func() bool { return c.archiveCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []string{"list", "delete", "list", "create", "archive", "list"}, c.opsSnapshot())
}

func TestSession_RootNotDirectoryIsFatal(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	s := NewSession(&SessionConfig{
		Root:       file,
		Descriptor: &deployapi.Descriptor{Name: "web"},
		Client:     &fakeClient{},
		Logger:     testLogger(t),
	})

	assert.ErrorIs(t, s.Run(context.Background()), ErrNotDirectory)
}

func TestSession_InitializeErrorIsFatal(t *testing.T) {
	t.Parallel()

	c := &fakeClient{listErr: deployapi.ErrUnauthorized}
	fw := newFakeFsWatcher()

	s := NewSession(&SessionConfig{
		Root:               t.TempDir(),
		Descriptor:         &deployapi.Descriptor{Name: "web"},
		Client:             c,
		SafetyScanInterval: -1,
		Logger:             testLogger(t),
	})
	s.watcher.newWatcher = func() (FsWatcher, error) { return fw, nil }

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, deployapi.ErrUnauthorized)

	fw.mu.Lock()
	assert.True(t, fw.closed, "watcher is shut down on failed start")
	fw.mu.Unlock()
}

func TestSession_CancelDropsPendingChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})

	c := &fakeClient{deployments: []deployapi.Deployment{{Name: "web", Status: deployapi.StatusSuccess}}}
	s, fw, stop := startSession(t, root, c, time.Hour, false)

	require.Eventually(t, func() bool { return s.State() == StateIdle && len(c.opsSnapshot()) == 1 },
		5*time.Second, 5*time.Millisecond)

	p := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("changed"), 0o600))
	fw.events <- fsnotify.Event{Name: p, Op: fsnotify.Write}

	require.Eventually(t, func() bool { return s.buffer.Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, stop(), "interrupt is a clean shutdown")
	assert.Equal(t, 0, c.incrementalCount(), "no final flush on interrupt")
}

func TestSession_WatcherStoppingEndsSession(t *testing.T) {
	t.Parallel()

	c := &fakeClient{deployments: []deployapi.Deployment{{Name: "web", Status: deployapi.StatusSuccess}}}
	fw := newFakeFsWatcher()

	s := NewSession(&SessionConfig{
		Root:               t.TempDir(),
		Descriptor:         &deployapi.Descriptor{Name: "web"},
		Client:             c,
		SafetyScanInterval: -1,
		Logger:             testLogger(t),
	})
	s.watcher.newWatcher = func() (FsWatcher, error) { return fw, nil }

	close(fw.events)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, errWatcherStopped)
}
