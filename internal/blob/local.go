package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore stores clips on the local filesystem and serves them from
// a configured base URL (the HTTP layer mounts the directory read-only).
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the storage directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Dir returns the storage directory, for the static file route.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Upload copies the artifact into the storage directory under a fresh
// unique name. The source file is left in place; scratch cleanup is the
// caller's job.
func (s *LocalStore) Upload(ctx context.Context, localPath string) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	id := uuid.NewString() + filepath.Ext(localPath)
	destPath := filepath.Join(s.dir, id)

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create stored artifact: %w", err)
	}

	size, err := io.Copy(dest, src)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	return &UploadResult{
		ID:         id,
		URL:        s.baseURL + "/" + id,
		Size:       size,
		UploadedAt: time.Now(),
	}, nil
}

// Delete removes a stored artifact.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Path resolves an artifact ID to its on-disk location. IDs containing
// path separators are rejected.
func (s *LocalStore) Path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

var _ Store = (*LocalStore)(nil)
