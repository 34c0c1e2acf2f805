package deployapi

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readParts consumes a multipart request and returns field values and file
// contents keyed by their raw (unsanitized) filename.
func readParts(t *testing.T, r *http.Request) (map[string]string, map[string]string) {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	fields := make(map[string]string)
	files := make(map[string]string)

	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		data, err := io.ReadAll(part)
		require.NoError(t, err)

		_, dispParams, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		require.NoError(t, err)

		if name, ok := dispParams["filename"]; ok {
			files[dispParams["name"]+":"+name] = string(data)
			continue
		}

		fields[dispParams["name"]] = string(data)
	}

	return fields, files
}

func TestUploadIncremental_Multipart(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/deployments/web/sync", r.URL.Path)

		fields, files := readParts(t, r)
		assert.Equal(t, map[string]string{
			"files:index.html": "<h1>v2</h1>",
			"files:src/app.js": "console.log(1)",
		}, files)
		assert.JSONEq(t, `["old.css"]`, fields["deletedFiles"])
		assert.Equal(t, "development", fields["mode"])

		_, _ = w.Write([]byte(`{"success":true,"action":"restart"}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).UploadIncremental(context.Background(), "web",
		[]FileUpload{
			{Path: "index.html", Content: []byte("<h1>v2</h1>")},
			{Path: "src/app.js", Content: []byte("console.log(1)")},
		},
		[]string{"old.css"},
		ModeDevelopment,
	)
	require.NoError(t, err)
	assert.Equal(t, ActionRestart, result.Action)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadIncremental_NilDeletedSendsEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields, _ := readParts(t, r)
		assert.JSONEq(t, `[]`, fields["deletedFiles"])
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).UploadIncremental(context.Background(), "web",
		[]FileUpload{{Path: "a.txt", Content: []byte("a")}}, nil, ModePreview)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, result.Action)
}

func TestUploadIncremental_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"success":false,"error":"deployment locked"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).UploadIncremental(context.Background(), "web",
		nil, []string{"gone.txt"}, ModePreview)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncRejected)
	assert.Contains(t, err.Error(), "deployment locked")
}

func TestUploadIncremental_NotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).UploadIncremental(context.Background(), "web",
		[]FileUpload{{Path: "a.txt", Content: []byte("a")}}, nil, ModePreview)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadArchive_Multipart(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("archive-bytes"), 0o600))

	d := &Descriptor{Name: "web", Framework: "static", Mode: ModePreview}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deployments/upload", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		fields, files := readParts(t, r)
		assert.Equal(t, "web", fields["deploymentId"])
		assert.Equal(t, "archive-bytes", files["archive:bundle.tar.gz"])

		var meta Descriptor
		assert.NoError(t, json.Unmarshal([]byte(fields["metadata"]), &meta))
		assert.Equal(t, *d, meta)

		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).UploadArchive(context.Background(), "web", archive, d))
}

func TestUploadArchive_EmptyAckBody(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).UploadArchive(context.Background(), "web", archive, &Descriptor{Name: "web"})
	assert.NoError(t, err)
}

func TestUploadArchive_ServiceError(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).UploadArchive(context.Background(), "web", archive, &Descriptor{Name: "web"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadRejected)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestUploadArchive_RejectedWithoutMessage(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).UploadArchive(context.Background(), "web", archive, &Descriptor{Name: "web"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadRejected)
}

func TestUploadArchive_MissingFile(t *testing.T) {
	client := NewClient("http://unused", nil, "", nil)
	err := client.UploadArchive(context.Background(), "web", filepath.Join(t.TempDir(), "nope.tar.gz"), &Descriptor{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
