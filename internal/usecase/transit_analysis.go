package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/internal/domain/service"
	mid "TransitWatch/internal/middleware"
	"TransitWatch/internal/services/scoring"
	applogger "TransitWatch/pkg/logger"
)

// ErrShutdown is returned by operations on a shut down orchestrator.
var ErrShutdown = errors.New("transit analysis is shut down")

// HardMaxDaysAhead caps any configured prediction window.
const HardMaxDaysAhead = 3650

type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateShutdown
)

func (s state) String() string {
	switch s {
	case stateInitialized:
		return "initialized"
	case stateShutdown:
		return "shutdown"
	default:
		return "uninitialized"
	}
}

// TransitAnalysisConfig tunes the orchestrator.
type TransitAnalysisConfig struct {
	CacheID          string        // blob id for the ephemeris cache snapshot
	MaxDaysAhead     int           // prediction window limit
	PredictionStep   time.Duration // sampling step for predictions
	SubscriberBuffer int           // monitor -> pump channel size
	PumpMinInterval  time.Duration
}

// DefaultTransitAnalysisConfig returns the defaults used when fields are zero.
func DefaultTransitAnalysisConfig() TransitAnalysisConfig {
	return TransitAnalysisConfig{
		CacheID:          "ephemeris-cache",
		MaxDaysAhead:     365,
		PredictionStep:   6 * time.Hour,
		SubscriberBuffer: 8,
		PumpMinInterval:  30 * time.Second,
	}
}

// TransitAnalysis wires tracker, monitor, analyzer and alert engine for one
// natal chart. Lifecycle: uninitialized -> initialized -> shutdown.
type TransitAnalysis struct {
	cfg      TransitAnalysisConfig
	analyzer *TransitAnalyzer
	tracker  *PositionTracker
	monitor  *PositionMonitor
	engine   *AlertEngine
	clock    service.Clock

	blobs       domrepo.BlobStore
	snapshotter service.CacheSnapshotter
	metrics     domrepo.Metrics
	l           *applogger.Logger

	mu     sync.Mutex
	state  state
	pump   *mid.RealtimePump
	cancel context.CancelFunc
}

// TransitAnalysisOption configures TransitAnalysis.
type TransitAnalysisOption func(*TransitAnalysis)

// WithCachePersistence loads the provider cache from blobs on Initialize and
// saves it on Shutdown.
func WithCachePersistence(blobs domrepo.BlobStore, s service.CacheSnapshotter) TransitAnalysisOption {
	return func(t *TransitAnalysis) {
		t.blobs = blobs
		t.snapshotter = s
	}
}

func WithAnalysisClock(c service.Clock) TransitAnalysisOption {
	return func(t *TransitAnalysis) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithAnalysisMetrics(m domrepo.Metrics) TransitAnalysisOption {
	return func(t *TransitAnalysis) { t.metrics = m }
}

func WithAnalysisLogger(l *applogger.Logger) TransitAnalysisOption {
	return func(t *TransitAnalysis) { t.l = l }
}

// NewTransitAnalysis creates an orchestrator. Zero config fields take defaults.
func NewTransitAnalysis(cfg TransitAnalysisConfig, analyzer *TransitAnalyzer, tracker *PositionTracker, monitor *PositionMonitor, engine *AlertEngine, opts ...TransitAnalysisOption) *TransitAnalysis {
	def := DefaultTransitAnalysisConfig()
	if cfg.CacheID == "" {
		cfg.CacheID = def.CacheID
	}
	if cfg.MaxDaysAhead <= 0 {
		cfg.MaxDaysAhead = def.MaxDaysAhead
	}
	if cfg.MaxDaysAhead > HardMaxDaysAhead {
		cfg.MaxDaysAhead = HardMaxDaysAhead
	}
	if cfg.PredictionStep <= 0 {
		cfg.PredictionStep = def.PredictionStep
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}

	t := &TransitAnalysis{
		cfg:      cfg,
		analyzer: analyzer,
		tracker:  tracker,
		monitor:  monitor,
		engine:   engine,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Chart returns the natal chart under analysis.
func (t *TransitAnalysis) Chart() *models.NatalChart { return t.analyzer.Chart() }

// Tracker exposes the position tracker for read-only queries.
func (t *TransitAnalysis) Tracker() *PositionTracker { return t.tracker }

// State returns the lifecycle state name.
func (t *TransitAnalysis) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.String()
}

// Initialize restores the persisted cache, starts the monitor and the
// realtime pump. Calling it again while initialized is a no-op; after
// Shutdown it returns ErrShutdown. A missing or unreadable cache snapshot
// only means starting cold.
func (t *TransitAnalysis) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case stateInitialized:
		return nil
	case stateShutdown:
		return ErrShutdown
	}

	t.restoreCache(ctx)

	// background work outlives the caller's request context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pump := mid.NewRealtimePump(t, t.metrics,
		mid.WithMinInterval(t.cfg.PumpMinInterval),
		mid.WithPumpLogger(t.l),
	)
	updates := t.monitor.Subscribe(t.cfg.SubscriberBuffer)
	pump.Start(runCtx, updates)

	if err := t.monitor.Start(runCtx); err != nil {
		t.monitor.Unsubscribe(updates)
		pump.Stop()
		cancel()
		return fmt.Errorf("start monitor: %w", err)
	}

	t.pump = pump
	t.cancel = cancel
	t.state = stateInitialized
	if t.l != nil {
		t.l.Info("Transit analysis initialized", applogger.String("chart", t.Chart().ID()))
	}
	return nil
}

func (t *TransitAnalysis) restoreCache(ctx context.Context) {
	if t.blobs == nil || t.snapshotter == nil {
		return
	}
	blob, err := t.blobs.Load(ctx, t.cfg.CacheID)
	if err != nil {
		if !errors.Is(err, domrepo.ErrNotFound) && t.l != nil {
			t.l.Warn("Failed to load ephemeris cache", applogger.Error(err))
		}
		return
	}
	if err := t.snapshotter.RestoreCache(blob); err != nil && t.l != nil {
		t.l.Warn("Failed to restore ephemeris cache", applogger.Error(err))
	}
}

// Shutdown stops the pump and monitor and persists the cache. It is
// idempotent; the orchestrator cannot be initialized again.
func (t *TransitAnalysis) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.state == stateShutdown {
		t.mu.Unlock()
		return nil
	}
	wasRunning := t.state == stateInitialized
	t.state = stateShutdown
	pump, cancel := t.pump, t.cancel
	t.mu.Unlock()

	// the pump may be inside ProcessRealtimeAlerts, so stop it unlocked
	if wasRunning {
		pump.Stop()
		t.monitor.Stop()
		cancel()
	}

	if t.blobs == nil || t.snapshotter == nil {
		return nil
	}
	blob, err := t.snapshotter.SnapshotCache()
	if err != nil {
		return fmt.Errorf("snapshot ephemeris cache: %w", err)
	}
	if err := t.blobs.Save(ctx, t.cfg.CacheID, blob); err != nil {
		return fmt.Errorf("save ephemeris cache: %w", err)
	}
	if t.l != nil {
		t.l.Info("Ephemeris cache saved", applogger.Int("bytes", len(blob)))
	}
	return nil
}

func (t *TransitAnalysis) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateShutdown {
		return ErrShutdown
	}
	return nil
}

// GetCurrentTransitAnalysis returns the current composite analysis. A failed
// snapshot or aspect computation fails the call; a failed per-body analysis
// only leaves that body's analysis empty.
func (t *TransitAnalysis) GetCurrentTransitAnalysis(ctx context.Context) (*models.CurrentAnalysis, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer t.observe("current_analysis", start)

	snap, err := t.tracker.CurrentPositions()
	if err != nil {
		return nil, fmt.Errorf("current positions: %w", err)
	}
	aspects, err := t.analyzer.Aspects(snap.Positions)
	if err != nil {
		return nil, fmt.Errorf("aspects: %w", err)
	}
	active, errs := t.analyzer.ActiveTransits(snap.Positions)
	for body, msg := range errs {
		t.recordError("impact_analysis")
		if t.l != nil {
			t.l.Warn("Impact analysis failed", applogger.String("body", body), applogger.String("reason", msg))
		}
	}

	th := t.analyzer.Thresholds()
	res := &models.CurrentAnalysis{
		ChartID:          t.Chart().ID(),
		Timestamp:        snap.Time,
		Positions:        snap.Positions,
		Aspects:          aspects,
		ActiveTransits:   active,
		OverallInfluence: scoring.OverallInfluence(active),
		Errors:           errs,
	}
	for _, at := range active {
		switch {
		case at.Intensity > th.Critical:
			res.CriticalPeriods = append(res.CriticalPeriods, at)
		case at.Intensity > th.Medium:
			res.MediumPeriods = append(res.MediumPeriods, at)
		}
	}
	if t.metrics != nil {
		t.metrics.RecordInfluence(res.ChartID, res.OverallInfluence)
	}
	return res, nil
}

// GenerateTransitPredictions samples the next daysAhead days and returns a
// timestamp-ordered calendar of periods and events with the alerts they
// produced. Any failure fails the whole request.
func (t *TransitAnalysis) GenerateTransitPredictions(ctx context.Context, daysAhead int) (*models.Predictions, error) {
	if daysAhead < 1 || daysAhead > t.cfg.MaxDaysAhead {
		return nil, models.NewValidationError("days_ahead", "must be between 1 and %d, got %d", t.cfg.MaxDaysAhead, daysAhead)
	}
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer t.observe("predictions", start)

	now := t.clock()
	end := now.Add(time.Duration(daysAhead) * 24 * time.Hour)

	// Samples sit on a fixed grid so event timestamps, and the dedup keys
	// built from them, do not move between polls.
	step := t.cfg.PredictionStep
	gridStart, gridEnd := now.Truncate(step), end.Truncate(step)
	series, err := t.tracker.CollectSeries(gridStart, gridEnd, step)
	if err != nil {
		return nil, fmt.Errorf("position series: %w", err)
	}
	periods, err := FindAllTransitPeriods(series, models.AllBodies)
	if err != nil {
		return nil, fmt.Errorf("transit periods: %w", err)
	}
	aspectEvents, err := t.analyzer.DetectAspectEvents(series)
	if err != nil {
		return nil, fmt.Errorf("aspect events: %w", err)
	}
	criticalEvents, err := t.analyzer.DetectCriticalPeriods(series)
	if err != nil {
		return nil, fmt.Errorf("critical periods: %w", err)
	}

	events := PeriodEvents(periods, t.analyzer.PlacementIntensity)
	events = append(events, aspectEvents...)
	events = append(events, criticalEvents...)
	sortEvents(events)

	alerts, err := t.engine.Process(ctx, t.Chart().ID(), events, now)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}

	return &models.Predictions{
		ChartID:   t.Chart().ID(),
		From:      now,
		To:        end,
		DaysAhead: daysAhead,
		Calendar:  buildCalendar(periods, events),
		Alerts:    alerts,
		Summary:   summarize(periods, events, alerts),
	}, nil
}

// ProcessRealtimeAlerts re-derives the active transits and runs them through
// the alert engine. Realtime keys carry no timestamp, so a transit that stays
// active alerts once.
func (t *TransitAnalysis) ProcessRealtimeAlerts(ctx context.Context) ([]models.Alert, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	snap, ok := t.tracker.Latest()
	if !ok {
		var err error
		if snap, err = t.tracker.CurrentPositions(); err != nil {
			return nil, fmt.Errorf("current positions: %w", err)
		}
	}

	active, _ := t.analyzer.ActiveTransits(snap.Positions)
	th := t.analyzer.Thresholds()

	var events []models.TransitEvent
	for _, at := range active {
		for _, m := range at.Aspects {
			events = append(events, models.TransitEvent{
				Type:      models.EventAspectFormation,
				Timestamp: snap.Time,
				Body:      m.BodyA,
				NatalBody: m.BodyB,
				Angle:     m.Angle,
				Sign:      at.Sign,
				Intensity: m.Strength,
				Key:       models.EventKey(models.EventAspectFormation, "realtime", m.BodyA, m.BodyB, m.Angle),
			})
		}
		if at.Intensity > th.Critical {
			events = append(events, models.TransitEvent{
				Type:      models.EventCriticalPeriod,
				Timestamp: snap.Time,
				Body:      at.Body,
				Sign:      at.Sign,
				Intensity: at.Intensity,
				Key:       models.EventKey(models.EventCriticalPeriod, "realtime", at.Body, at.Sign),
			})
		}
	}

	return t.engine.Process(ctx, t.Chart().ID(), events, t.clock())
}

func (t *TransitAnalysis) observe(op string, start time.Time) {
	if t.metrics != nil {
		t.metrics.RecordLatency(op, time.Since(start).Seconds())
	}
}

func (t *TransitAnalysis) recordError(kind string) {
	if t.metrics != nil {
		t.metrics.RecordError(kind)
	}
}

func buildCalendar(periods []models.TransitPeriod, events []models.TransitEvent) []models.CalendarEntry {
	out := make([]models.CalendarEntry, 0, len(periods)+len(events))
	for i := range periods {
		p := periods[i]
		out = append(out, models.CalendarEntry{Timestamp: p.Start, Kind: "period", Period: &p})
	}
	for i := range events {
		e := events[i]
		out = append(out, models.CalendarEntry{Timestamp: e.Timestamp, Kind: "event", Event: &e})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func summarize(periods []models.TransitPeriod, events []models.TransitEvent, alerts []models.Alert) models.PredictionSummary {
	s := models.PredictionSummary{
		Periods:     len(periods),
		Events:      len(events),
		Alerts:      len(alerts),
		ByEventType: map[models.EventType]int{},
		ByPriority:  map[models.Priority]int{},
	}
	for _, e := range events {
		s.ByEventType[e.Type]++
	}
	for _, a := range alerts {
		s.ByPriority[a.Priority]++
	}
	return s
}
