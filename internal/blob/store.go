package blob

import (
	"context"
	"time"
)

// UploadResult describes a durably stored artifact.
type UploadResult struct {
	ID         string
	URL        string
	Size       int64
	UploadedAt time.Time
}

// Store persists video artifacts and hands back durable URLs.
type Store interface {
	// Upload copies the file at localPath into durable storage and
	// returns its public URL and metadata.
	Upload(ctx context.Context, localPath string) (*UploadResult, error)
	// Delete removes a previously uploaded artifact.
	Delete(ctx context.Context, id string) error
	// Path resolves an artifact ID to a readable local path, if the
	// backend supports direct reads.
	Path(id string) (string, error)
}
