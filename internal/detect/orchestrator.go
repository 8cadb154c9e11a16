package detect

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vigil/internal/blob"
	"vigil/internal/buffer"
	"vigil/internal/classify"
	"vigil/internal/clip"
	"vigil/internal/session"
	"vigil/internal/store"
)

// Encoder turns a frame sequence into a video artifact at a scratch path.
type Encoder interface {
	Encode(ctx context.Context, frames []buffer.Frame) (string, error)
}

// RecordStore persists detection records.
type RecordStore interface {
	Insert(rec *store.DetectionRecord) error
}

// Orchestrator turns a qualifying verdict into a persisted detection:
// buffer snapshot, clip encode, blob upload, record insert. Every
// failure is isolated to the one detection; nothing propagates to the
// ingestion path.
type Orchestrator struct {
	window  time.Duration
	encoder Encoder
	blobs   blob.Store
	records RecordStore
}

// New creates an orchestrator.
func New(window time.Duration, encoder Encoder, blobs blob.Store, records RecordStore) *Orchestrator {
	return &Orchestrator{
		window:  window,
		encoder: encoder,
		blobs:   blobs,
		records: records,
	}
}

// Handle materializes a clip for the detection and writes the durable
// record with notification_sent=false, finalized=false. The returned
// record has not been notified yet; delivery is the reconciler's job.
func (o *Orchestrator) Handle(ctx context.Context, sess *session.Session, verdict *classify.Verdict) (*store.DetectionRecord, error) {
	frames := sess.Buffer().Snapshot(o.window)
	if len(frames) == 0 {
		return nil, fmt.Errorf("detection on source %s: %w", sess.SourceID, clip.ErrNoFootage)
	}

	scratchPath, err := o.encoder.Encode(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("detection on source %s: %w", sess.SourceID, err)
	}
	// The scratch artifact never outlives the detection attempt
	defer clip.Cleanup(scratchPath)

	upload, err := o.blobs.Upload(ctx, scratchPath)
	if err != nil {
		return nil, fmt.Errorf("detection on source %s: upload failed: %w", sess.SourceID, err)
	}

	meta := buildMetadata(verdict, upload.Size)
	meta.ThumbID = o.uploadThumbnail(ctx, sess.SourceID, frames[len(frames)-1].Payload)

	rec := &store.DetectionRecord{
		ID:          uuid.NewString(),
		SourceID:    sess.SourceID,
		SourceLabel: sess.Label(),
		OccurredAt:  time.Now().UTC(),
		VideoURL:    upload.URL,
		Confidence:  verdict.Confidence,
		Category:    verdict.Category(),
		Metadata:    meta,
	}

	if err := o.records.Insert(rec); err != nil {
		// The uploaded blob now has no record pointing at it. That
		// orphan is a known gap carried over from the original system;
		// it is logged loudly instead of silently swallowed.
		log.Printf("[Detect] ORPHANED BLOB: record insert failed for source %s, uploaded clip %s has no detection record: %v",
			sess.SourceID, upload.ID, err)
		return nil, fmt.Errorf("detection on source %s: persist failed: %w", sess.SourceID, err)
	}

	log.Printf("[Detect] Recorded %s detection %s for source %s (%d frames, %s of footage)",
		rec.Category, rec.ID, sess.SourceID, len(frames), clip.Duration(frames).Round(100*time.Millisecond))
	return rec, nil
}

// uploadThumbnail stores a downscaled copy of the triggering frame so
// notifiers can attach a preview. Best effort: any failure just means
// the alert goes out without a picture.
func (o *Orchestrator) uploadThumbnail(ctx context.Context, sourceID string, frame []byte) string {
	thumb, err := clip.Thumbnail(frame, 480)
	if err != nil {
		log.Printf("[Detect] Thumbnail generation failed for source %s: %v", sourceID, err)
		return ""
	}

	path := filepath.Join(os.TempDir(), uuid.NewString()+".jpg")
	if err := os.WriteFile(path, thumb, 0o644); err != nil {
		log.Printf("[Detect] Thumbnail write failed for source %s: %v", sourceID, err)
		return ""
	}
	defer clip.Cleanup(path)

	upload, err := o.blobs.Upload(ctx, path)
	if err != nil {
		log.Printf("[Detect] Thumbnail upload failed for source %s: %v", sourceID, err)
		return ""
	}
	return upload.ID
}

func buildMetadata(verdict *classify.Verdict, clipBytes int64) store.Metadata {
	meta := store.Metadata{
		WeaponType: verdict.WeaponType,
		ClipBytes:  clipBytes,
	}
	if verdict.Plate != nil {
		meta.Plate = verdict.Plate.Text
	}
	for _, s := range verdict.Suspicious {
		meta.Suspicious = append(meta.Suspicious, s.Label)
	}
	return meta
}
