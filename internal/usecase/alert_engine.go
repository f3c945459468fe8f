package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/internal/services/geometry"
	applogger "TransitWatch/pkg/logger"
)

// TimingThresholds are day counts splitting events into timing classes.
type TimingThresholds struct {
	Immediate float64
	Soon      float64
	Upcoming  float64
	Advance   float64
}

// DefaultTimingThresholds returns 1/7/30/90 days.
func DefaultTimingThresholds() TimingThresholds {
	return TimingThresholds{Immediate: 1, Soon: 7, Upcoming: 30, Advance: 90}
}

// DefaultAlertRules returns the built-in rule table.
func DefaultAlertRules() map[models.EventType]models.AlertRule {
	return map[models.EventType]models.AlertRule{
		models.EventSignEntry:        {Enabled: true, Priority: models.PriorityMedium},
		models.EventSignExit:         {Enabled: true, Priority: models.PriorityLow},
		models.EventAspectFormation:  {Enabled: true, Priority: models.PriorityHigh, MinIntensity: 40},
		models.EventAspectSeparation: {Enabled: true, Priority: models.PriorityLow, MinIntensity: 40},
		models.EventCriticalPeriod:   {Enabled: true, Priority: models.PriorityCritical},
	}
}

// AlertEngine turns events into prioritized alerts, drops already delivered
// ones and hands the rest to a notification sink. Delivery is at most once:
// an alert's key is claimed before sending and a failed send is not retried.
type AlertEngine struct {
	mu     sync.RWMutex
	rules  map[models.EventType]models.AlertRule
	timing TimingThresholds

	dedup   domrepo.DedupStore
	sink    domrepo.NotificationSink
	metrics domrepo.Metrics
	l       *applogger.Logger
	newID   func() uuid.UUID
}

// AlertEngineOption configures AlertEngine.
type AlertEngineOption func(*AlertEngine)

func WithEngineMetrics(m domrepo.Metrics) AlertEngineOption {
	return func(e *AlertEngine) { e.metrics = m }
}

func WithEngineLogger(l *applogger.Logger) AlertEngineOption {
	return func(e *AlertEngine) { e.l = l }
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() uuid.UUID) AlertEngineOption {
	return func(e *AlertEngine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewAlertEngine creates an engine. A nil rules map uses DefaultAlertRules.
func NewAlertEngine(rules map[models.EventType]models.AlertRule, timing TimingThresholds, dedup domrepo.DedupStore, sink domrepo.NotificationSink, opts ...AlertEngineOption) *AlertEngine {
	if rules == nil {
		rules = DefaultAlertRules()
	}
	e := &AlertEngine{
		rules:  copyRules(rules),
		timing: timing,
		dedup:  dedup,
		sink:   sink,
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRules replaces the rule table.
func (e *AlertEngine) SetRules(rules map[models.EventType]models.AlertRule) {
	e.mu.Lock()
	e.rules = copyRules(rules)
	e.mu.Unlock()
	if e.l != nil {
		e.l.Info("Alert rules updated", applogger.Int("rules", len(rules)))
	}
}

// Rules returns a copy of the rule table.
func (e *AlertEngine) Rules() map[models.EventType]models.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyRules(e.rules)
}

// Evaluate computes priority and timing for ev relative to now without
// dedup or delivery. ok is false when the event does not qualify.
func (e *AlertEngine) Evaluate(ev models.TransitEvent, now time.Time) (models.Priority, models.Timing, bool) {
	e.mu.RLock()
	rule, found := e.rules[ev.Type]
	e.mu.RUnlock()
	if !found || !rule.Enabled || !rule.Priority.IsValid() {
		return "", "", false
	}
	if ev.Intensity < rule.MinIntensity {
		return "", "", false
	}

	days := ev.Timestamp.Sub(now).Hours() / 24
	// events already past by more than the immediate window are stale
	if days < -e.timing.Immediate || days > e.timing.Advance {
		return "", "", false
	}

	p := rule.Priority
	var timing models.Timing
	switch {
	case days <= e.timing.Immediate:
		timing = models.TimingImmediate
		p = p.Escalate()
	case days <= e.timing.Soon:
		timing = models.TimingSoon
	case days <= e.timing.Upcoming:
		timing = models.TimingUpcoming
	default:
		timing = models.TimingAdvance
		p = p.Demote()
	}
	return p, timing, true
}

// Process evaluates events for chartID, delivers new alerts and returns them
// ordered by priority then event time. Delivery failures are logged only.
func (e *AlertEngine) Process(ctx context.Context, chartID string, events []models.TransitEvent, now time.Time) ([]models.Alert, error) {
	var out []models.Alert
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		priority, timing, ok := e.Evaluate(ev, now)
		if !ok {
			continue
		}

		claimed, err := e.dedup.Claim(ctx, chartID+":"+ev.Key)
		if err != nil {
			e.recordError("dedup")
			if e.l != nil {
				e.l.Error("Alert dedup claim failed", applogger.String("key", ev.Key), applogger.Error(err))
			}
			continue
		}
		if !claimed {
			continue
		}

		a := models.Alert{
			ID:        e.newID(),
			ChartID:   chartID,
			Type:      ev.Type,
			Priority:  priority,
			Timing:    timing,
			Message:   alertMessage(ev),
			Timestamp: ev.Timestamp,
			CreatedAt: now,
			Event:     ev,
		}
		if e.metrics != nil {
			e.metrics.RecordAlert(string(a.Type), string(a.Priority))
		}

		if e.sink != nil {
			if err := e.sink.Send(ctx, a); err != nil {
				e.recordError("notification")
				if e.l != nil {
					e.l.Error("Alert delivery failed",
						applogger.String("alert_id", a.ID.String()),
						applogger.String("type", string(a.Type)),
						applogger.Error(err))
				}
			}
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (e *AlertEngine) recordError(kind string) {
	if e.metrics != nil {
		e.metrics.RecordError(kind)
	}
}

func alertMessage(ev models.TransitEvent) string {
	switch ev.Type {
	case models.EventSignEntry:
		return fmt.Sprintf("%s enters %s", displayName(ev.Body), models.SignName(ev.Sign))
	case models.EventSignExit:
		return fmt.Sprintf("%s leaves %s", displayName(ev.Body), models.SignName(ev.Sign))
	case models.EventAspectFormation:
		return fmt.Sprintf("%s forms %s with natal %s", displayName(ev.Body), aspectName(ev.Angle), displayName(ev.NatalBody))
	case models.EventAspectSeparation:
		return fmt.Sprintf("%s separates from %s with natal %s", displayName(ev.Body), aspectName(ev.Angle), displayName(ev.NatalBody))
	case models.EventCriticalPeriod:
		return fmt.Sprintf("%s transit reaches critical intensity %.0f", displayName(ev.Body), ev.Intensity)
	default:
		return string(ev.Type)
	}
}

func aspectName(angle float64) string {
	for _, d := range geometry.Catalogue {
		if d.Angle == angle {
			return d.Name
		}
	}
	return fmt.Sprintf("%.0f° aspect", angle)
}

func copyRules(in map[models.EventType]models.AlertRule) map[models.EventType]models.AlertRule {
	out := make(map[models.EventType]models.AlertRule, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
