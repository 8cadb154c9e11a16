// Package api exposes the read-only HTTP status surface.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"vigil/internal/session"
	"vigil/internal/store"
)

// RecordReader is the slice of the record store the API reads from.
type RecordReader interface {
	ListRecent(sourceID string, limit int) ([]*store.DetectionRecord, error)
}

// HealthChecker reports whether the classification service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Handlers serves the status and detection listing endpoints.
type Handlers struct {
	registry *session.Registry
	records  RecordReader
	health   HealthChecker
	started  time.Time
}

// New creates the API handler set.
func New(registry *session.Registry, records RecordReader, health HealthChecker) *Handlers {
	return &Handlers{
		registry: registry,
		records:  records,
		health:   health,
		started:  time.Now(),
	}
}

// Register attaches the API routes to the given echo group.
func (h *Handlers) Register(g *echo.Group) {
	g.GET("/status", h.Status)
	g.GET("/detections", h.Detections)
}

type statusResponse struct {
	Status              string          `json:"status"`
	UptimeSeconds       int64           `json:"uptime_seconds"`
	ClassifierAvailable bool            `json:"classifier_available"`
	SourceCount         int             `json:"source_count"`
	Sources             []session.Stats `json:"sources"`
}

// Status reports per-source session state and classifier availability.
func (h *Handlers) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	sources := h.registry.AllStats()
	resp := statusResponse{
		Status:              "ok",
		UptimeSeconds:       int64(time.Since(h.started).Seconds()),
		ClassifierAvailable: h.health.HealthCheck(ctx),
		SourceCount:         len(sources),
		Sources:             sources,
	}
	return c.JSON(http.StatusOK, resp)
}

type detectionView struct {
	ID               string         `json:"id"`
	SourceID         string         `json:"source_id"`
	SourceLabel      string         `json:"source_label,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Category         string         `json:"category"`
	Confidence       float64        `json:"confidence"`
	VideoURL         string         `json:"video_url,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	Finalized        bool           `json:"finalized"`
	Metadata         store.Metadata `json:"metadata"`
}

// Detections lists recent detection records, newest first. Supports
// optional source_id and limit query parameters.
func (h *Handlers) Detections(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	records, err := h.records.ListRecent(c.QueryParam("source_id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list detections")
	}

	views := make([]detectionView, 0, len(records))
	for _, rec := range records {
		views = append(views, detectionView{
			ID:               rec.ID,
			SourceID:         rec.SourceID,
			SourceLabel:      rec.SourceLabel,
			OccurredAt:       rec.OccurredAt,
			Category:         rec.Category,
			Confidence:       rec.Confidence,
			VideoURL:         rec.VideoURL,
			NotificationSent: rec.NotificationSent,
			Finalized:        rec.Finalized,
			Metadata:         rec.Metadata,
		})
	}
	return c.JSON(http.StatusOK, views)
}
