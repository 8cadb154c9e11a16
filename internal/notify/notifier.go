package notify

import (
	"context"
	"fmt"
	"time"
)

// Alert is the human-facing payload built from a detection record.
type Alert struct {
	SourceID    string
	SourceLabel string
	Category    string
	Confidence  float64
	OccurredAt  time.Time
	VideoURL    string
	Plate       string
	Suspicious  []string
	Thumbnail   []byte // optional JPEG preview of the triggering frame
}

// Notifier delivers alerts to humans. Implementations must be safe for
// concurrent use; the reconciliation loop is the only caller in steady
// state but test sends may overlap.
type Notifier interface {
	Send(ctx context.Context, alert *Alert) error
}

// Subject builds the one-line summary used as message title or caption
// header.
func (a *Alert) Subject() string {
	return fmt.Sprintf("Security alert: %s on %s", a.Category, a.SourceLabel)
}

// Body builds the message text shared by all transports.
func (a *Alert) Body() string {
	zone, _ := a.OccurredAt.Zone()
	body := fmt.Sprintf(
		"Source: %s\nCategory: %s\nConfidence: %.0f%%\nTime: %s %s",
		a.SourceLabel,
		a.Category,
		a.Confidence*100,
		a.OccurredAt.Format("2 Jan 2006, 15:04:05"),
		zone,
	)
	if a.Plate != "" {
		body += fmt.Sprintf("\nPlate: %s", a.Plate)
	}
	for _, s := range a.Suspicious {
		body += fmt.Sprintf("\nActivity: %s", s)
	}
	if a.VideoURL != "" {
		body += fmt.Sprintf("\nClip: %s", a.VideoURL)
	}
	return body
}
