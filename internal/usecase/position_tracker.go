package usecase

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/domain/service"
	"TransitWatch/internal/services/ephemeris"
)

// DefaultMaxSeriesSamples bounds a single position series.
const DefaultMaxSeriesSamples = 200000

// PositionTracker turns wall-clock times into sidereal snapshots and keeps
// the most recent "current" snapshot.
type PositionTracker struct {
	provider   service.EphemerisProvider
	ayanamsa   float64
	clock      service.Clock
	maxSamples int

	mu     sync.RWMutex
	latest *models.Snapshot
}

// NewPositionTracker creates a tracker using ayanamsa for sidereal conversion.
func NewPositionTracker(provider service.EphemerisProvider, ayanamsa float64, clock service.Clock) *PositionTracker {
	if clock == nil {
		clock = time.Now
	}
	return &PositionTracker{
		provider:   provider,
		ayanamsa:   ayanamsa,
		clock:      clock,
		maxSamples: DefaultMaxSeriesSamples,
	}
}

// SetMaxSamples overrides the series sample limit.
func (t *PositionTracker) SetMaxSamples(n int) {
	if n > 0 {
		t.maxSamples = n
	}
}

// PositionsAt returns the sidereal snapshot at ts.
func (t *PositionTracker) PositionsAt(ts time.Time) (models.Snapshot, error) {
	if ts.IsZero() {
		return models.Snapshot{}, models.NewValidationError("time", "required")
	}
	jd := ephemeris.JulianDay(ts)
	e, err := t.provider.At(jd)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("positions at %s: %w", ts.Format(time.RFC3339), err)
	}
	return models.Snapshot{
		Time:      ts,
		JulianDay: jd,
		Positions: ephemeris.Sidereal(e, t.ayanamsa),
	}, nil
}

// CurrentPositions computes the snapshot for now and stores it as latest.
func (t *PositionTracker) CurrentPositions() (models.Snapshot, error) {
	snap, err := t.PositionsAt(t.clock())
	if err != nil {
		return models.Snapshot{}, err
	}
	t.mu.Lock()
	t.latest = &snap
	t.mu.Unlock()
	return snap, nil
}

// Latest returns the last snapshot stored by CurrentPositions.
func (t *PositionTracker) Latest() (models.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return models.Snapshot{}, false
	}
	s := *t.latest
	s.Positions = s.Positions.Clone()
	return s, true
}

// PositionSeries returns a lazy, restartable sequence of snapshots from start
// to end inclusive at step intervals. The final sample is always end.
// Ranging over the sequence computes positions on demand; it stops at the
// first provider error, yielding it.
func (t *PositionTracker) PositionSeries(start, end time.Time, step time.Duration) (iter.Seq2[models.Snapshot, error], error) {
	if _, err := t.sampleCount(start, end, step); err != nil {
		return nil, err
	}

	return func(yield func(models.Snapshot, error) bool) {
		for ts := start; ; ts = ts.Add(step) {
			if ts.After(end) {
				ts = end
			}
			snap, err := t.PositionsAt(ts)
			if !yield(snap, err) || err != nil || !ts.Before(end) {
				return
			}
		}
	}, nil
}

// CollectSeries materializes PositionSeries.
func (t *PositionTracker) CollectSeries(start, end time.Time, step time.Duration) ([]models.Snapshot, error) {
	n, err := t.sampleCount(start, end, step)
	if err != nil {
		return nil, err
	}
	seq, _ := t.PositionSeries(start, end, step)

	out := make([]models.Snapshot, 0, n)
	for snap, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (t *PositionTracker) sampleCount(start, end time.Time, step time.Duration) (int, error) {
	if start.IsZero() || end.IsZero() {
		return 0, models.NewValidationError("range", "start and end are required")
	}
	if step <= 0 {
		return 0, models.NewValidationError("step", "must be positive")
	}
	if end.Before(start) {
		return 0, models.NewValidationError("range", "end before start")
	}
	span := end.Sub(start)
	n := int64(span/step) + 1
	if span%step != 0 {
		n++
	}
	if n > int64(t.maxSamples) {
		return 0, models.NewValidationError("step", "series of %d samples exceeds limit %d", n, t.maxSamples)
	}
	return int(n), nil
}
