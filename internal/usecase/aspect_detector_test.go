package usecase

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/services/scoring"
)

func TestDetectAspectEvents_NoChangeNoEvents(t *testing.T) {
	a := NewTransitAnalyzer(mustChart(map[models.Body]float64{models.Sun: 5}), 5, scoring.DefaultThresholds)
	series := dailySeries(t, staticPositions(map[models.Body]float64{models.Mars: 95}), 3)

	evs, err := a.DetectAspectEvents(series)
	require.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = a.DetectAspectEvents(series[:1])
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestDetectAspectEvents_FormationAndSeparation(t *testing.T) {
	a := NewTransitAnalyzer(mustChart(map[models.Body]float64{models.Sun: 90}), 5, scoring.DefaultThresholds)
	series := dailySeries(t, movingBody(models.Mars, 70.5, 1), 30)

	evs, err := a.DetectAspectEvents(series)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	form, sep := evs[0], evs[1]
	assert.Equal(t, models.EventAspectFormation, form.Type)
	assert.True(t, form.Timestamp.Equal(day(15)))
	assert.Equal(t, models.Mars, form.Body)
	assert.Equal(t, models.Sun, form.NatalBody)
	assert.InDelta(t, 0, form.Angle, 1e-9)
	assert.InDelta(t, 57.5, form.Intensity, 1e-6)

	assert.Equal(t, models.EventAspectSeparation, sep.Type)
	assert.True(t, sep.Timestamp.Equal(day(25)))
	assert.NotEqual(t, form.Key, sep.Key)
}

func TestDetectAspectEvents_PlacementFailure(t *testing.T) {
	a := NewTransitAnalyzer(mustChart(map[models.Body]float64{models.Sun: 90}), 5, scoring.DefaultThresholds)
	series := dailySeries(t, movingBody(models.Mars, 70.5, 1), 2)
	series[1].Positions[models.Mars] = models.PlanetaryPosition{Longitude: math.NaN()}

	_, err := a.DetectAspectEvents(series)
	var calc *models.CalculationError
	assert.ErrorAs(t, err, &calc)
}

func TestDetectCriticalPeriods(t *testing.T) {
	chart := mustChart(map[models.Body]float64{models.Sun: 90})
	series := dailySeries(t, movingBody(models.Mars, 70.5, 1), 30)

	// placement alone sets the baseline; the conjunction pushes above it
	base := NewTransitAnalyzer(chart, 5, scoring.DefaultThresholds)
	p, err := base.Intensity(models.Mars, series[0].Positions[models.Mars])
	require.NoError(t, err)

	a := NewTransitAnalyzer(chart, 5, scoring.Thresholds{Critical: p, Medium: p / 2})
	evs, err := a.DetectCriticalPeriods(series)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventCriticalPeriod, evs[0].Type)
	assert.Equal(t, models.Mars, evs[0].Body)
	assert.True(t, evs[0].Timestamp.Equal(day(15)))
	assert.Greater(t, evs[0].Intensity, p)

	none, err := NewTransitAnalyzer(chart, 5, scoring.Thresholds{Critical: 100, Medium: 50}).DetectCriticalPeriods(series)
	require.NoError(t, err)
	assert.Empty(t, none)
}
