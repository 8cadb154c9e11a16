package reconcile

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/notify"
	"vigil/internal/store"
)

// PendingStore is the slice of the record store the reconciler needs.
type PendingStore interface {
	ListUnfinalized() ([]*store.DetectionRecord, error)
	MarkNotified(id string) error
	MarkFinalized(id string) error
}

// ThumbReader resolves stored thumbnail IDs to readable local paths.
// May be nil; alerts then go out without a preview.
type ThumbReader interface {
	Path(id string) (string, error)
}

// Config holds reconciler configuration.
type Config struct {
	Interval    time.Duration // tick spacing, default 1m
	Abandonment time.Duration // records older than this are finalized unsent, default 24h
}

// Loop drives every persisted detection to a terminal state: notified
// and finalized, or abandoned after the horizon. It is the sole mutator
// of the notification_sent and finalized flags.
type Loop struct {
	store    PendingStore
	notifier notify.Notifier
	thumbs   ThumbReader
	cfg      Config

	ticking  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a reconciliation loop. thumbs may be nil.
func New(st PendingStore, notifier notify.Notifier, thumbs ThumbReader, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Abandonment <= 0 {
		cfg.Abandonment = 24 * time.Hour
	}
	return &Loop{
		store:    st,
		notifier: notifier,
		thumbs:   thumbs,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the recurring tick.
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.RunTick(context.Background())
			}
		}
	}()
	log.Printf("[Reconcile] Started, interval %s, abandonment horizon %s", l.cfg.Interval, l.cfg.Abandonment)
}

// Stop halts the schedule; an in-flight tick finishes first.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// RunTick processes all unfinalized records once. If a previous tick is
// still running the new one is skipped, not queued, so slow notification
// transports cannot pile up concurrent passes.
func (l *Loop) RunTick(ctx context.Context) {
	if !l.ticking.CompareAndSwap(false, true) {
		log.Printf("[Reconcile] Previous tick still running, skipping")
		return
	}
	defer l.ticking.Store(false)

	pending, err := l.store.ListUnfinalized()
	if err != nil {
		log.Printf("[Reconcile] Failed to list pending detections: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	for _, rec := range pending {
		// One bad record never aborts the rest of the batch
		l.reconcileRecord(ctx, rec)
	}
}

func (l *Loop) reconcileRecord(ctx context.Context, rec *store.DetectionRecord) {
	if !rec.NotificationSent {
		alert := alertFromRecord(rec)
		alert.Thumbnail = l.loadThumbnail(rec)
		if err := l.notifier.Send(ctx, alert); err != nil {
			log.Printf("[Reconcile] Notification failed for detection %s (source %s): %v", rec.ID, rec.SourceID, err)

			if time.Since(rec.OccurredAt) > l.cfg.Abandonment {
				log.Printf("[Reconcile] ABANDONED detection %s: unsent for over %s, finalizing without notification", rec.ID, l.cfg.Abandonment)
				if err := l.store.MarkFinalized(rec.ID); err != nil {
					log.Printf("[Reconcile] Failed to finalize abandoned detection %s: %v", rec.ID, err)
				}
			}
			return
		}

		if err := l.store.MarkNotified(rec.ID); err != nil {
			// The alert went out but the flag write failed; the next
			// tick will retry the send, which is the at-least-once
			// contract working as intended.
			log.Printf("[Reconcile] Failed to mark detection %s notified: %v", rec.ID, err)
			return
		}
		log.Printf("[Reconcile] Notified for detection %s (source %s, category %s)", rec.ID, rec.SourceID, rec.Category)
	}

	if err := l.store.MarkFinalized(rec.ID); err != nil {
		log.Printf("[Reconcile] Failed to finalize detection %s: %v", rec.ID, err)
	}
}

// loadThumbnail fetches the stored trigger-frame preview, if any.
// Best effort: a missing or unreadable thumbnail never blocks delivery.
func (l *Loop) loadThumbnail(rec *store.DetectionRecord) []byte {
	if l.thumbs == nil || rec.Metadata.ThumbID == "" {
		return nil
	}
	path, err := l.thumbs.Path(rec.Metadata.ThumbID)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Reconcile] Failed to read thumbnail for detection %s: %v", rec.ID, err)
		return nil
	}
	return data
}

func alertFromRecord(rec *store.DetectionRecord) *notify.Alert {
	return &notify.Alert{
		SourceID:    rec.SourceID,
		SourceLabel: rec.SourceLabel,
		Category:    rec.Category,
		Confidence:  rec.Confidence,
		OccurredAt:  rec.OccurredAt,
		VideoURL:    rec.VideoURL,
		Plate:       rec.Metadata.Plate,
		Suspicious:  rec.Metadata.Suspicious,
	}
}
