package deployapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Multipart field names understood by the upload endpoints.
const (
	fieldArchive      = "archive"
	fieldMetadata     = "metadata"
	fieldDeploymentID = "deploymentId"
	fieldFiles        = "files"
	fieldDeleted      = "deletedFiles"
	fieldMode         = "mode"
)

// UploadArchive ships a full project archive for deploymentID together with
// the descriptor. The archive is streamed from disk in a single request.
func (c *Client) UploadArchive(ctx context.Context, deploymentID, archivePath string, d *Descriptor) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("deployapi: opening archive: %w", err)
	}
	defer f.Close()

	meta, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deployapi: marshaling descriptor: %w", err)
	}

	c.logger.Info("uploading archive",
		slog.String("deployment", deploymentID),
		slog.String("archive", archivePath),
	)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeArchiveParts(mw, f, filepath.Base(archivePath), deploymentID, meta))
	}()

	resp, err := c.doRawUpload(ctx, http.MethodPost, "/deployments/upload", mw.FormDataContentType(), pr)
	// Unblock the writer goroutine if the request ended before reading the body.
	pr.Close()

	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result uploadResult
	if decErr := json.NewDecoder(resp.Body).Decode(&result); decErr != nil {
		// An empty 2xx body is an acknowledgement.
		if errors.Is(decErr, io.EOF) {
			return nil
		}

		return fmt.Errorf("deployapi: decoding upload response: %w", decErr)
	}

	if !result.Success {
		if result.Error == "" {
			return ErrUploadRejected
		}

		return fmt.Errorf("%w: %s", ErrUploadRejected, result.Error)
	}

	return nil
}

func writeArchiveParts(mw *multipart.Writer, archive io.Reader, name, deploymentID string, meta []byte) error {
	if err := mw.WriteField(fieldDeploymentID, deploymentID); err != nil {
		return err
	}

	if err := mw.WriteField(fieldMetadata, string(meta)); err != nil {
		return err
	}

	part, err := mw.CreateFormFile(fieldArchive, name)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, archive); err != nil {
		return fmt.Errorf("streaming archive: %w", err)
	}

	return mw.Close()
}

// UploadIncremental ships changed file contents and deleted paths for the
// named deployment in one request and returns the action the service took.
// A response with success=false is returned as ErrSyncRejected.
func (c *Client) UploadIncremental(
	ctx context.Context, name string, updated []FileUpload, deleted []string, mode Mode,
) (*SyncResult, error) {
	c.logger.Info("uploading incremental changes",
		slog.String("deployment", name),
		slog.Int("updated", len(updated)),
		slog.Int("deleted", len(deleted)),
		slog.String("mode", string(mode)),
	)

	if deleted == nil {
		deleted = []string{}
	}

	deletedJSON, err := json.Marshal(deleted)
	if err != nil {
		return nil, fmt.Errorf("deployapi: marshaling deleted paths: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeIncrementalParts(mw, updated, deletedJSON, mode))
	}()

	path := "/deployments/" + url.PathEscape(name) + "/sync"

	resp, err := c.doRawUpload(ctx, http.MethodPost, path, mw.FormDataContentType(), pr)
	pr.Close()

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result SyncResult
	if decErr := json.NewDecoder(resp.Body).Decode(&result); decErr != nil {
		return nil, fmt.Errorf("deployapi: decoding sync response: %w", decErr)
	}

	if !result.Success {
		return &result, fmt.Errorf("%w: %s", ErrSyncRejected, result.Error)
	}

	if result.Action == "" {
		result.Action = ActionNone
	}

	return &result, nil
}

func writeIncrementalParts(mw *multipart.Writer, updated []FileUpload, deletedJSON []byte, mode Mode) error {
	for i := range updated {
		part, err := mw.CreateFormFile(fieldFiles, updated[i].Path)
		if err != nil {
			return err
		}

		if _, err := part.Write(updated[i].Content); err != nil {
			return fmt.Errorf("writing %s: %w", updated[i].Path, err)
		}
	}

	if err := mw.WriteField(fieldDeleted, string(deletedJSON)); err != nil {
		return err
	}

	if err := mw.WriteField(fieldMode, string(mode)); err != nil {
		return err
	}

	return mw.Close()
}
