package repository

import (
	"context"
	"errors"
	"time"

	"TransitWatch/internal/domain/models"
)

// ErrNotFound is returned by BlobStore.Load when nothing was saved under id.
var ErrNotFound = errors.New("not found")

// BlobStore persists opaque blobs such as the ephemeris cache snapshot.
type BlobStore interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, blob []byte) error
}

// DedupStore records delivered alert keys. Claim returns true only for the
// first caller of a key.
type DedupStore interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// NotificationSink delivers alerts to one channel.
type NotificationSink interface {
	Send(ctx context.Context, a models.Alert) error
}

// AlertArchive stores delivered alerts for later queries.
type AlertArchive interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreAlerts(ctx context.Context, alerts []models.Alert) error
	ListAlerts(ctx context.Context, chartID string, from, to time.Time, limit int) ([]models.Alert, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordAlert(eventType, priority string)
	RecordNotification(channel string, ok bool)
	RecordCacheResult(hit bool)
	RecordTick()
	RecordDroppedUpdate()
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordInfluence(chartID string, value float64)
}
