package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
)

var engineNow = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func entryEvent(at time.Time, intensity float64) models.TransitEvent {
	return models.TransitEvent{
		Type:      models.EventSignEntry,
		Timestamp: at,
		Body:      models.Mars,
		Sign:      1,
		Intensity: intensity,
		Key:       models.EventKey(models.EventSignEntry, models.Mars, 1, at.Unix()),
	}
}

func TestAlertEngine_TimingClasses(t *testing.T) {
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), nil)

	cases := []struct {
		name     string
		offset   time.Duration
		ok       bool
		timing   models.Timing
		priority models.Priority
	}{
		{"immediate escalates", 12 * time.Hour, true, models.TimingImmediate, models.PriorityHigh},
		{"just passed", -12 * time.Hour, true, models.TimingImmediate, models.PriorityHigh},
		{"soon", 3 * 24 * time.Hour, true, models.TimingSoon, models.PriorityMedium},
		{"upcoming", 20 * 24 * time.Hour, true, models.TimingUpcoming, models.PriorityMedium},
		{"advance demotes", 60 * 24 * time.Hour, true, models.TimingAdvance, models.PriorityLow},
		{"too far", 100 * 24 * time.Hour, false, "", ""},
		{"stale", -2 * 24 * time.Hour, false, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, timing, ok := e.Evaluate(entryEvent(engineNow.Add(tc.offset), 50), engineNow)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.timing, timing)
			assert.Equal(t, tc.priority, p)
		})
	}
}

func TestAlertEngine_RuleFiltering(t *testing.T) {
	rules := DefaultAlertRules()
	rules[models.EventSignExit] = models.AlertRule{Enabled: false, Priority: models.PriorityLow}
	e := NewAlertEngine(rules, DefaultTimingThresholds(), newMemDedup(), nil)

	exit := entryEvent(engineNow.Add(48*time.Hour), 50)
	exit.Type = models.EventSignExit
	_, _, ok := e.Evaluate(exit, engineNow)
	assert.False(t, ok, "disabled rule")

	weak := models.TransitEvent{Type: models.EventAspectFormation, Timestamp: engineNow.Add(48 * time.Hour), Intensity: 39.9}
	_, _, ok = e.Evaluate(weak, engineNow)
	assert.False(t, ok, "below min intensity")

	weak.Intensity = 40
	p, _, ok := e.Evaluate(weak, engineNow)
	assert.True(t, ok)
	assert.Equal(t, models.PriorityHigh, p)

	_, _, ok = e.Evaluate(models.TransitEvent{Type: "eclipse", Timestamp: engineNow}, engineNow)
	assert.False(t, ok, "unknown type")
}

func TestAlertEngine_ProcessDedupsAndDelivers(t *testing.T) {
	sink := &captureSink{}
	m := newCountingMetrics()
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), sink, WithEngineMetrics(m))
	ctx := context.Background()

	ev := entryEvent(engineNow.Add(3*24*time.Hour), 55)
	alerts, err := e.Process(ctx, "natal-1", []models.TransitEvent{ev}, engineNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "natal-1", a.ChartID)
	assert.Equal(t, "Mars enters Taurus", a.Message)
	assert.Equal(t, models.TimingSoon, a.Timing)
	assert.True(t, a.CreatedAt.Equal(engineNow))
	assert.NotEqual(t, [16]byte{}, [16]byte(a.ID))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, m.alerts["sign_entry/medium"])

	again, err := e.Process(ctx, "natal-1", []models.TransitEvent{ev}, engineNow)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 1, sink.count())

	// the same event for another chart is a different alert
	other, err := e.Process(ctx, "natal-2", []models.TransitEvent{ev}, engineNow)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestAlertEngine_SinkFailureStillReturnsAlert(t *testing.T) {
	sink := &captureSink{fail: true}
	m := newCountingMetrics()
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), sink, WithEngineMetrics(m))

	ev := entryEvent(engineNow.Add(time.Hour), 55)
	alerts, err := e.Process(context.Background(), "natal-1", []models.TransitEvent{ev}, engineNow)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, 1, m.errorCount("notification"))

	// at most once: the failed send is not retried
	alerts, err = e.Process(context.Background(), "natal-1", []models.TransitEvent{ev}, engineNow)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, sink.count())
}

func TestAlertEngine_DedupErrorSkipsEvent(t *testing.T) {
	d := newMemDedup()
	d.err = errors.New("redis down")
	m := newCountingMetrics()
	sink := &captureSink{}
	e := NewAlertEngine(nil, DefaultTimingThresholds(), d, sink, WithEngineMetrics(m))

	alerts, err := e.Process(context.Background(), "natal-1", []models.TransitEvent{entryEvent(engineNow, 55)}, engineNow)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 0, sink.count())
	assert.Equal(t, 1, m.errorCount("dedup"))
}

func TestAlertEngine_OrderByPriorityThenTime(t *testing.T) {
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), nil)

	late := entryEvent(engineNow.Add(5*24*time.Hour), 55)
	early := entryEvent(engineNow.Add(2*24*time.Hour), 55)
	crit := models.TransitEvent{
		Type:      models.EventCriticalPeriod,
		Timestamp: engineNow.Add(10 * 24 * time.Hour),
		Body:      models.Saturn,
		Intensity: 80,
		Key:       "critical_period:saturn:1",
	}
	alerts, err := e.Process(context.Background(), "natal-1", []models.TransitEvent{late, early, crit}, engineNow)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, models.PriorityCritical, alerts[0].Priority)
	assert.Equal(t, "Saturn transit reaches critical intensity 80", alerts[0].Message)
	assert.True(t, alerts[1].Timestamp.Equal(early.Timestamp))
	assert.True(t, alerts[2].Timestamp.Equal(late.Timestamp))
}

func TestAlertEngine_CanceledContext(t *testing.T) {
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Process(ctx, "natal-1", []models.TransitEvent{entryEvent(engineNow, 55)}, engineNow)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlertEngine_SetRules(t *testing.T) {
	e := NewAlertEngine(nil, DefaultTimingThresholds(), newMemDedup(), nil)

	rules := e.Rules()
	rules[models.EventSignEntry] = models.AlertRule{Enabled: false}
	_, _, ok := e.Evaluate(entryEvent(engineNow, 55), engineNow)
	assert.True(t, ok, "Rules returns a copy")

	e.SetRules(rules)
	_, _, ok = e.Evaluate(entryEvent(engineNow, 55), engineNow)
	assert.False(t, ok)
}

func TestAlertMessage(t *testing.T) {
	assert.Equal(t, "Mars leaves Aries", alertMessage(models.TransitEvent{Type: models.EventSignExit, Body: models.Mars, Sign: 0}))
	assert.Equal(t, "Jupiter forms trine with natal Moon",
		alertMessage(models.TransitEvent{Type: models.EventAspectFormation, Body: models.Jupiter, NatalBody: models.Moon, Angle: 120}))
	assert.Equal(t, "Venus separates from 72° aspect with natal Sun",
		alertMessage(models.TransitEvent{Type: models.EventAspectSeparation, Body: models.Venus, NatalBody: models.Sun, Angle: 72}))
}
