package watch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Archive is a packaged project tree on disk. The caller owns Path and
// must remove it.
type Archive struct {
	Path  string
	Size  int64
	Files int
}

// Remove deletes the archive file. Safe to call on a nil Archive.
func (a *Archive) Remove() error {
	if a == nil || a.Path == "" {
		return nil
	}

	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("watch: removing archive %s: %w", a.Path, err)
	}

	return nil
}

// ArchiveBuilder packages a project tree into a gzip-compressed tar for
// full syncs.
type ArchiveBuilder struct {
	// TempDir is where archives are written. Empty means os.TempDir.
	TempDir string
	logger  *slog.Logger
}

// NewArchiveBuilder creates an ArchiveBuilder writing to the system temp
// directory.
func NewArchiveBuilder(logger *slog.Logger) *ArchiveBuilder {
	return &ArchiveBuilder{logger: logger}
}

// Build writes every non-excluded regular file under root to a new
// .tar.gz. Entry names are forward-slash paths relative to root, added in
// lexical order. On error no file is left behind.
func (b *ArchiveBuilder) Build(ctx context.Context, root string, m *Matcher) (*Archive, error) {
	files, err := collectFiles(ctx, root, m)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(b.TempDir, "liftoff-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("watch: creating archive: %w", err)
	}

	archivePath := f.Name()

	size, err := writeTarGz(ctx, f, root, files)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("watch: closing archive: %w", closeErr)
	}

	if err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	b.logger.Info("archive built",
		slog.String("path", archivePath),
		slog.Int("files", len(files)),
		slog.Int64("size", size),
	)

	return &Archive{Path: archivePath, Size: size, Files: len(files)}, nil
}

// collectFiles returns the sorted relative paths of all shippable files.
func collectFiles(ctx context.Context, root string, m *Matcher) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if m.IsExcluded(rel) {
			return skipEntry(d)
		}

		if d.Type().IsRegular() {
			files = append(files, rel)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch: walking %s: %w", root, err)
	}

	sort.Strings(files)

	return files, nil
}

// writeTarGz streams files into w and returns the compressed size.
func writeTarGz(ctx context.Context, w io.Writer, root string, files []string) (int64, error) {
	cw := &countingWriter{w: w}
	gz := gzip.NewWriter(cw)
	tw := tar.NewWriter(gz)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if err := addFile(tw, root, rel); err != nil {
			return 0, err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("watch: finishing tar stream: %w", err)
	}

	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("watch: finishing gzip stream: %w", err)
	}

	return cw.n, nil
}

func addFile(tw *tar.Writer, root, rel string) error {
	src, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("watch: opening %s: %w", rel, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("watch: stat %s: %w", rel, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("watch: tar header for %s: %w", rel, err)
	}

	hdr.Name = rel

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("watch: writing header for %s: %w", rel, err)
	}

	// The header carries the size seen at Stat; a file growing during the
	// copy must not overrun it.
	if _, err := io.CopyN(tw, src, hdr.Size); err != nil {
		return fmt.Errorf("watch: archiving %s: %w", rel, err)
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
