package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	pkgkafka "TransitWatch/pkg/kafka"
	"TransitWatch/pkg/queue"
)

// AlertArchiveHandler consumes published alerts and writes them to the
// archive. It serves both the Kafka topic and the Redis queue job.
type AlertArchiveHandler struct {
	topic   string
	msgType string
	archive domrepo.AlertArchive
	metrics domrepo.Metrics
}

func NewAlertArchiveHandler(topic, msgType string, archive domrepo.AlertArchive, metrics domrepo.Metrics) *AlertArchiveHandler {
	return &AlertArchiveHandler{topic: topic, msgType: msgType, archive: archive, metrics: metrics}
}

func (h *AlertArchiveHandler) Topic() string { return h.topic }

// Handle decodes one JSON alert from Kafka.
func (h *AlertArchiveHandler) Handle(ctx context.Context, b []byte) error {
	var a models.Alert
	if err := json.Unmarshal(b, &a); err != nil {
		h.recordError("archive_unmarshal")
		return fmt.Errorf("decode alert: %w", err)
	}
	return h.store(ctx, a)
}

func (h *AlertArchiveHandler) Name() string { return "alert_archive" }
func (h *AlertArchiveHandler) Type() string { return h.msgType }

// HandlePayload is the queue entry point; payloads arrive as raw JSON.
func (h *AlertArchiveHandler) HandlePayload(ctx context.Context, payload interface{}) error {
	a, err := queue.ParsePayload[models.Alert](payload)
	if err != nil {
		h.recordError("archive_unmarshal")
		return err
	}
	return h.store(ctx, *a)
}

func (h *AlertArchiveHandler) store(ctx context.Context, a models.Alert) error {
	if a.ID == uuid.Nil || a.ChartID == "" {
		h.recordError("archive_invalid")
		return models.NewValidationError("alert", "id and chart_id are required")
	}
	start := time.Now()
	err := h.archive.StoreAlerts(ctx, []models.Alert{a})
	if h.metrics != nil {
		h.metrics.RecordLatency("archive_insert", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("archive_store")
		return err
	}
	return nil
}

func (h *AlertArchiveHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

// archiveJob adapts the handler to queue.Job, whose Handle takes a payload.
type archiveJob struct{ h *AlertArchiveHandler }

// QueueJob returns the handler as a Redis queue job.
func (h *AlertArchiveHandler) QueueJob() queue.Job { return archiveJob{h: h} }

func (j archiveJob) Name() string { return j.h.Name() }
func (j archiveJob) Type() string { return j.h.Type() }
func (j archiveJob) Handle(ctx context.Context, payload interface{}) error {
	return j.h.HandlePayload(ctx, payload)
}

var _ pkgkafka.MessageHandler = (*AlertArchiveHandler)(nil)
