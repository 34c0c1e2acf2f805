package watch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/liftoff/internal/deployapi"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	w := &testLogWriter{t: t}
	t.Cleanup(w.stop)

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testLogWriter adapts testing.T to io.Writer for slog. Writes after the
// test finished are dropped, since background goroutines may still log.
type testLogWriter struct {
	mu      sync.Mutex
	t       *testing.T
	stopped bool
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.t.Log(string(p))
	}

	return len(p), nil
}

func (w *testLogWriter) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// writeTree creates files under root from a relative-path → content map.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

// readTarGz returns the entries of a .tar.gz as name → content.
func readTarGz(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	entries := make(map[string]string)
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}

		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}

		entries[hdr.Name] = string(data)
	}
}

// incrementalCall records one UploadIncremental invocation.
type incrementalCall struct {
	Name    string
	Updated map[string]string
	Order   []string
	Deleted []string
	Mode    deployapi.Mode
}

// archiveCall records one UploadArchive invocation.
type archiveCall struct {
	ID      string
	Path    string
	Entries map[string]string
	Desc    deployapi.Descriptor
}

// fakeClient is an in-memory RemoteClient. Created deployments start
// pending; every upload moves the deployment to afterSync (success when
// empty).
type fakeClient struct {
	mu sync.Mutex

	deployments []deployapi.Deployment
	listFunc    func(call int) ([]deployapi.Deployment, error)
	listErr     error
	createErr   error
	archiveErr  error
	syncErr     error
	deleteErr   error
	syncAction  deployapi.Action
	afterSync   deployapi.Status

	ops          []string
	listCalls    int
	created      []deployapi.Descriptor
	archives     []archiveCall
	incrementals []incrementalCall
	deleted      []string
}

func (f *fakeClient) ListDeployments(_ context.Context) ([]deployapi.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "list")
	f.listCalls++

	if f.listFunc != nil {
		return f.listFunc(f.listCalls)
	}

	if f.listErr != nil {
		return nil, f.listErr
	}

	return append([]deployapi.Deployment(nil), f.deployments...), nil
}

func (f *fakeClient) CreateDeployment(_ context.Context, d *deployapi.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "create")

	if f.createErr != nil {
		return f.createErr
	}

	f.created = append(f.created, *d)
	f.deployments = append(f.deployments, deployapi.Deployment{Name: d.Name, Status: deployapi.StatusPending})

	return nil
}

func (f *fakeClient) UploadArchive(_ context.Context, id, archivePath string, d *deployapi.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "archive")

	if f.archiveErr != nil {
		return f.archiveErr
	}

	entries, err := readTarGz(archivePath)
	if err != nil {
		return err
	}

	f.archives = append(f.archives, archiveCall{ID: id, Path: archivePath, Entries: entries, Desc: *d})
	f.setStatusLocked(id)

	return nil
}

func (f *fakeClient) UploadIncremental(
	_ context.Context, name string, updated []deployapi.FileUpload, deleted []string, mode deployapi.Mode,
) (*deployapi.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "sync")

	if f.syncErr != nil {
		return nil, f.syncErr
	}

	call := incrementalCall{Name: name, Updated: make(map[string]string), Deleted: deleted, Mode: mode}
	for _, u := range updated {
		call.Updated[u.Path] = string(u.Content)
		call.Order = append(call.Order, u.Path)
	}

	f.incrementals = append(f.incrementals, call)

	action := f.syncAction
	if action == "" {
		action = deployapi.ActionNone
	}

	if action.NeedsPoll() {
		f.setStatusLocked(name)
	}

	return &deployapi.SyncResult{Success: true, Action: action}, nil
}

func (f *fakeClient) DeleteDeployment(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "delete")

	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.deleted = append(f.deleted, name)

	kept := f.deployments[:0]
	for _, d := range f.deployments {
		if d.Name != name {
			kept = append(kept, d)
		}
	}

	f.deployments = kept

	return nil
}

func (f *fakeClient) setStatusLocked(name string) {
	status := f.afterSync
	if status == "" {
		status = deployapi.StatusSuccess
	}

	for i := range f.deployments {
		if f.deployments[i].Name == name {
			f.deployments[i].Status = status
		}
	}
}

func (f *fakeClient) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.ops...)
}

func (f *fakeClient) incrementalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.incrementals)
}

func (f *fakeClient) archiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.archives)
}

// fakeFsWatcher is an FsWatcher driven by the test.
type fakeFsWatcher struct {
	mu      sync.Mutex
	events  chan fsnotify.Event
	errs    chan error
	added   []string
	removed []string
	closed  bool
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 16),
		errs:   make(chan error, 16),
	}
}

func (f *fakeFsWatcher) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, name)

	return nil
}

func (f *fakeFsWatcher) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, name)

	return nil
}

func (f *fakeFsWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error          { return f.errs }

func (f *fakeFsWatcher) addedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.added...)
}

// recordingObserver captures observer notifications.
type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	started  []SyncKind
	reports  []*CycleReport
	progress []*PollProgress
}

func (r *recordingObserver) StateChanged(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = append(r.states, to)
}

func (r *recordingObserver) SyncStarted(kind SyncKind, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = append(r.started, kind)
}

func (r *recordingObserver) SyncFinished(report *CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, report)
}

func (r *recordingObserver) PollProgress(p *PollProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = append(r.progress, p)
}

func (r *recordingObserver) lastReport() *CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.reports) == 0 {
		return nil
	}

	return r.reports[len(r.reports)-1]
}

func (r *recordingObserver) reportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.reports)
}

// noSleep is a sleepFunc that returns immediately unless ctx is done.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
