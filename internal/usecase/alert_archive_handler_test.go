package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
)

type memArchive struct {
	mu     sync.Mutex
	stored []models.Alert
	err    error
}

func (a *memArchive) Init(context.Context) error { return nil }
func (a *memArchive) StoreAlerts(_ context.Context, alerts []models.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.stored = append(a.stored, alerts...)
	return nil
}
func (a *memArchive) ListAlerts(context.Context, string, time.Time, time.Time, int) ([]models.Alert, error) {
	return nil, nil
}
func (a *memArchive) Health(context.Context) error { return nil }
func (a *memArchive) Close() error { return nil }

func archivedAlert() models.Alert {
	return models.Alert{
		ID:        uuid.New(),
		ChartID:   "natal-1",
		Type:      models.EventSignEntry,
		Priority:  models.PriorityMedium,
		Timing:    models.TimingSoon,
		Message:   "Mars enters Taurus",
		Timestamp: engineNow,
		CreatedAt: engineNow,
	}
}

func TestAlertArchiveHandler_Kafka(t *testing.T) {
	archive := &memArchive{}
	m := newCountingMetrics()
	h := NewAlertArchiveHandler("transit-alerts", "transit_alert", archive, m)
	assert.Equal(t, "transit-alerts", h.Topic())

	a := archivedAlert()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), raw))
	require.Len(t, archive.stored, 1)
	assert.Equal(t, a.ID, archive.stored[0].ID)

	require.Error(t, h.Handle(context.Background(), []byte("{")))
	assert.Equal(t, 1, m.errorCount("archive_unmarshal"))

	invalid, _ := json.Marshal(models.Alert{ChartID: "natal-1"})
	err = h.Handle(context.Background(), invalid)
	assert.True(t, models.IsValidationError(err))
	assert.Equal(t, 1, m.errorCount("archive_invalid"))
}

func TestAlertArchiveHandler_QueueJob(t *testing.T) {
	archive := &memArchive{}
	h := NewAlertArchiveHandler("", "transit_alert", archive, nil)
	job := h.QueueJob()
	assert.Equal(t, "alert_archive", job.Name())
	assert.Equal(t, "transit_alert", job.Type())

	a := archivedAlert()
	raw, _ := json.Marshal(a)
	var asMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &asMap))

	require.NoError(t, job.Handle(context.Background(), asMap))
	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))
	require.NoError(t, job.Handle(context.Background(), a))
	assert.Len(t, archive.stored, 3)

	assert.Error(t, job.Handle(context.Background(), 42))
}

func TestAlertArchiveHandler_StoreError(t *testing.T) {
	archive := &memArchive{err: errors.New("disk full")}
	m := newCountingMetrics()
	h := NewAlertArchiveHandler("t", "transit_alert", archive, m)
	err := h.HandlePayload(context.Background(), archivedAlert())
	require.Error(t, err)
	assert.Equal(t, 1, m.errorCount("archive_store"))
}
