package service

import (
	"context"
	"time"

	"TransitWatch/internal/domain/models"
)

// EphemerisProvider computes tropical positions for a julian day.
type EphemerisProvider interface {
	At(jd float64) (models.Ephemeris, error)
}

// CacheSnapshotter exports and imports a provider's cache contents.
type CacheSnapshotter interface {
	SnapshotCache() ([]byte, error)
	RestoreCache(blob []byte) error
}

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

// AlertProcessor runs realtime alert evaluation.
type AlertProcessor interface {
	ProcessRealtimeAlerts(ctx context.Context) ([]models.Alert, error)
}
