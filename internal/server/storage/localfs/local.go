// Package localfs is the baseline storage backend: uploads already sit on
// local disk, so persisting one means adopting the temp file into the managed
// upload root and describing it.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type Backend struct {
	root string
	log  logging.Logger
}

// New creates the upload root if needed and returns the backend.
func New(root string, log logging.Logger) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return nil, fmt.Errorf("create upload root %s: %w", abs, err)
	}
	return &Backend{root: abs, log: log.With("component", "localfs")}, nil
}

// Upload adopts src into the upload root and returns a local reference.
// On-disk sources are renamed (copied across devices); in-memory sources are
// written out. The stored name is generated, keeping only the original
// extension; the original name survives in the reference metadata.
func (b *Backend) Upload(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.AsCanceled(ctx, err)
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(src.Name()))
	dest := filepath.Join(b.root, name)

	switch s := src.(type) {
	case *storage.OnDisk:
		if err := moveFile(s.Path, dest); err != nil {
			return nil, fmt.Errorf("adopt upload: %w", err)
		}
	default:
		f, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload source: %w", err)
		}
		werr := writeFile(dest, f)
		cerr := f.Close()
		if werr != nil {
			return nil, fmt.Errorf("persist upload: %w", werr)
		}
		if cerr != nil {
			return nil, fmt.Errorf("close upload source: %w", cerr)
		}
	}

	mime := opts.MimeType
	if mime == "" {
		if mt, err := mimetype.DetectFile(dest); err == nil {
			mime = mt.String()
		} else {
			mime = "application/octet-stream"
		}
	}

	opts.Report(src.Size(), src.Size(), 100)

	return &storage.StoredMediaReference{
		StorageType:  storage.TypeLocal,
		OriginalName: src.Name(),
		MimeType:     mime,
		Size:         src.Size(),
		UploadedAt:   time.Now().UTC(),
		UploadedBy:   opts.OwnerID,
		Path:         name,
	}, nil
}

// Resolve maps a local reference to an absolute path for streaming back,
// refusing anything that would escape the upload root.
func (b *Backend) Resolve(ref *storage.StoredMediaReference) (string, error) {
	abs := filepath.Join(b.root, ref.Path) // Join cleans ".." segments
	if !strings.HasPrefix(abs, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes upload root", storage.ErrValidation)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref.Path, err)
	}
	return abs, nil
}

// Delete unlinks the stored file. Best effort: failures are logged, never
// returned.
func (b *Backend) Delete(ctx context.Context, ref *storage.StoredMediaReference) error {
	abs, err := b.Resolve(ref)
	if err != nil {
		b.log.Warn(ctx, "delete skipped, cannot resolve file", "path", ref.Path, "error", err)
		return nil
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		b.log.Warn(ctx, "failed to delete local file", "path", ref.Path, "error", err)
	}
	return nil
}

func moveFile(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	// rename can fail across devices; fall back to copy + remove
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := writeFile(to, in); err != nil {
		return err
	}
	return os.Remove(from)
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o660)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
	}
	return err
}
