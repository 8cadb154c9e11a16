package ingest

import (
	"time"

	"vigil/internal/classify"
	"vigil/internal/store"
)

// AlertEvent is the outbound message emitted to the triggering source
// and to subscribed viewers when a detection is recorded.
type AlertEvent struct {
	Type                 string    `json:"type"`
	SourceID             string    `json:"source_id"`
	SourceLabel          string    `json:"source_label"`
	Category             string    `json:"category"`
	Confidence           float64   `json:"confidence"`
	Plate                string    `json:"plate,omitempty"`
	SuspiciousActivities []string  `json:"suspicious_activities,omitempty"`
	VideoURL             string    `json:"video_url,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

func newAlertEvent(rec *store.DetectionRecord, verdict *classify.Verdict) *AlertEvent {
	event := &AlertEvent{
		Type:        "alert",
		SourceID:    rec.SourceID,
		SourceLabel: rec.SourceLabel,
		Category:    rec.Category,
		Confidence:  rec.Confidence,
		VideoURL:    rec.VideoURL,
		Timestamp:   rec.OccurredAt,
	}
	if verdict.Plate != nil {
		event.Plate = verdict.Plate.Text
	}
	for _, s := range verdict.Suspicious {
		event.SuspiciousActivities = append(event.SuspiciousActivities, s.Label)
	}
	return event
}
