package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	applogger "TransitWatch/pkg/logger"
)

// ErrMonitorRunning is returned by Start on a running monitor.
var ErrMonitorRunning = errors.New("position monitor already running")

// PositionMonitor refreshes the tracker on a fixed interval and publishes each
// refresh to subscriber channels in registration order. A subscriber whose
// buffer is full misses that update; the drop is counted.
type PositionMonitor struct {
	tracker  *PositionTracker
	interval time.Duration
	metrics  domrepo.Metrics
	l        *applogger.Logger

	mu      sync.Mutex
	subs    []chan models.PositionUpdate
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64
	dropped uint64
}

// NewPositionMonitor creates a monitor. metrics and logger may be nil.
func NewPositionMonitor(tracker *PositionTracker, interval time.Duration, metrics domrepo.Metrics, l *applogger.Logger) *PositionMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PositionMonitor{tracker: tracker, interval: interval, metrics: metrics, l: l}
}

// Subscribe registers a channel that receives every published update.
// Channels are closed by Stop.
func (m *PositionMonitor) Subscribe(buffer int) <-chan models.PositionUpdate {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.PositionUpdate, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (m *PositionMonitor) Unsubscribe(ch <-chan models.PositionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.subs {
		if c == ch {
			close(c)
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Start refreshes once and then on every interval until Stop or ctx is done.
func (m *PositionMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrMonitorRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.loop(ctx, done)
	return nil
}

func (m *PositionMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a pending tick is abandoned once stop is requested
			if ctx.Err() != nil {
				return
			}
			m.tick()
		}
	}
}

func (m *PositionMonitor) tick() {
	if m.metrics != nil {
		m.metrics.RecordTick()
	}
	snap, err := m.tracker.CurrentPositions()
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("monitor_refresh")
		}
		if m.l != nil {
			m.l.Error("Position refresh failed", applogger.Error(err))
		}
		return
	}
	m.publish(snap)
}

func (m *PositionMonitor) publish(snap models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	for _, ch := range m.subs {
		u := models.PositionUpdate{Snapshot: snap, Seq: m.seq}
		u.Snapshot.Positions = snap.Positions.Clone()
		select {
		case ch <- u:
		default:
			m.dropped++
			if m.metrics != nil {
				m.metrics.RecordDroppedUpdate()
			}
		}
	}
}

// Stop cancels future ticks, waits for an in-flight tick to finish and closes
// subscriber channels. It is safe to call more than once.
func (m *PositionMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.mu.Unlock()
}

// Running reports whether the monitor loop is active.
func (m *PositionMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Dropped returns how many updates were dropped on full subscribers.
func (m *PositionMonitor) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
