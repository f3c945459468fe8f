package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/internal/domain/service"
	applogger "TransitWatch/pkg/logger"
)

// RealtimePump sits between the position monitor and the alert engine.
// It validates each update, throttles to at most one evaluation per
// interval and forwards to the processor. There is no buffering or retry:
// updates that arrive too soon or fail are dropped.
type RealtimePump struct {
	proc        service.AlertProcessor
	metrics     domrepo.Metrics
	l           *applogger.Logger
	minInterval time.Duration
	now         func() time.Time

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastSeen time.Time
}

type PumpOption func(*RealtimePump)

// WithMinInterval sets the minimum time between evaluations.
func WithMinInterval(d time.Duration) PumpOption {
	return func(p *RealtimePump) {
		if d >= 0 {
			p.minInterval = d
		}
	}
}

// WithPumpLogger sets the logger.
func WithPumpLogger(l *applogger.Logger) PumpOption {
	return func(p *RealtimePump) { p.l = l }
}

// WithPumpClock overrides the throttle clock.
func WithPumpClock(now func() time.Time) PumpOption {
	return func(p *RealtimePump) {
		if now != nil {
			p.now = now
		}
	}
}

// NewRealtimePump creates a pump. metrics may be nil.
func NewRealtimePump(proc service.AlertProcessor, metrics domrepo.Metrics, opts ...PumpOption) *RealtimePump {
	p := &RealtimePump{
		proc:        proc,
		metrics:     metrics,
		minInterval: 30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start consumes updates until Stop, ctx cancellation or channel close.
func (p *RealtimePump) Start(ctx context.Context, updates <-chan models.PositionUpdate) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if _, err := p.Process(ctx, u); err != nil && p.l != nil {
					p.l.Warn("Realtime alert evaluation failed", applogger.Error(err))
				}
			}
		}
	}()
}

// Stop stops consuming and waits for an in-flight evaluation.
func (p *RealtimePump) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Process validates, throttles and forwards one update. It returns the
// number of alerts produced; a throttled update returns 0 and no error.
func (p *RealtimePump) Process(ctx context.Context, u models.PositionUpdate) (int, error) {
	start := time.Now()
	if err := validateUpdate(u); err != nil {
		p.recordError("pump_validate")
		return 0, err
	}
	if !p.allow(p.now()) {
		p.recordError("pump_throttle")
		return 0, nil
	}

	alerts, err := p.proc.ProcessRealtimeAlerts(ctx)
	if err != nil {
		p.recordError("pump_process")
		return 0, fmt.Errorf("pump downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pump_process", time.Since(start).Seconds())
	}
	if len(alerts) > 0 && p.l != nil {
		p.l.Info("Realtime alerts generated",
			applogger.Int("count", len(alerts)),
			applogger.Int64("seq", int64(u.Seq)))
	}
	return len(alerts), nil
}

func (p *RealtimePump) allow(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minInterval <= 0 {
		p.lastSeen = now
		return true
	}
	if !p.lastSeen.IsZero() && now.Sub(p.lastSeen) < p.minInterval {
		return false
	}
	p.lastSeen = now
	return true
}

func (p *RealtimePump) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateUpdate(u models.PositionUpdate) error {
	if u.Snapshot.Time.IsZero() {
		return models.NewValidationError("snapshot", "timestamp missing")
	}
	if len(u.Snapshot.Positions) == 0 {
		return models.NewValidationError("snapshot", "no positions")
	}
	for b, pos := range u.Snapshot.Positions {
		if math.IsNaN(pos.Longitude) || math.IsInf(pos.Longitude, 0) || pos.Longitude < 0 || pos.Longitude >= 360 {
			return models.NewValidationError("snapshot", "%s longitude out of range", b)
		}
	}
	return nil
}
