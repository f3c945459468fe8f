package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
	icache "TransitWatch/internal/service/cache"
	"TransitWatch/internal/usecase"
	applogger "TransitWatch/pkg/logger"
)

var handlerNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeAnalysis struct {
	mu          sync.Mutex
	chart       *models.NatalChart
	predictions int
	err         error
}

func newFakeAnalysis(t *testing.T) *fakeAnalysis {
	t.Helper()
	chart, err := models.NewNatalChart("natal-1",
		models.BodyPositions{models.Sun: {Longitude: 10}},
		[]float64{0, 30, 60, 90, 120, 150, 180, 210, 240, 270, 300, 330}, 0)
	require.NoError(t, err)
	return &fakeAnalysis{chart: chart}
}

func (f *fakeAnalysis) Chart() *models.NatalChart { return f.chart }

func (f *fakeAnalysis) GetCurrentTransitAnalysis(context.Context) (*models.CurrentAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.CurrentAnalysis{ChartID: f.chart.ID(), Timestamp: handlerNow, OverallInfluence: 42}, nil
}

func (f *fakeAnalysis) GenerateTransitPredictions(_ context.Context, days int) (*models.Predictions, error) {
	if days > 365 {
		return nil, models.NewValidationError("days_ahead", "must be between 1 and 365, got %d", days)
	}
	f.mu.Lock()
	f.predictions++
	f.mu.Unlock()
	return &models.Predictions{ChartID: f.chart.ID(), DaysAhead: days, From: handlerNow}, nil
}

func (f *fakeAnalysis) ProcessRealtimeAlerts(context.Context) ([]models.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Alert{{ID: uuid.New(), ChartID: f.chart.ID(), Priority: models.PriorityCritical}}, nil
}

func (f *fakeAnalysis) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.predictions
}

type fakePositions struct{}

func (fakePositions) PositionsAt(ts time.Time) (models.Snapshot, error) {
	return models.Snapshot{Time: ts, Positions: models.BodyPositions{
		models.Sun:  {Longitude: 1},
		models.Mars: {Longitude: 2},
	}}, nil
}

func (p fakePositions) CurrentPositions() (models.Snapshot, error) { return p.PositionsAt(handlerNow) }

func (p fakePositions) CollectSeries(start, end time.Time, step time.Duration) ([]models.Snapshot, error) {
	if step <= 0 || end.Before(start) {
		return nil, models.NewValidationError("step", "bad window")
	}
	var out []models.Snapshot
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		s, _ := p.PositionsAt(ts)
		out = append(out, s)
	}
	return out, nil
}

type archiveStub struct {
	gotFrom, gotTo time.Time
	gotLimit       int
	gotChart       string
}

func (a *archiveStub) Init(context.Context) error                        { return nil }
func (a *archiveStub) StoreAlerts(context.Context, []models.Alert) error { return nil }
func (a *archiveStub) Health(context.Context) error                      { return nil }
func (a *archiveStub) Close() error                                      { return nil }
func (a *archiveStub) ListAlerts(_ context.Context, chartID string, from, to time.Time, limit int) ([]models.Alert, error) {
	a.gotChart, a.gotFrom, a.gotTo, a.gotLimit = chartID, from, to, limit
	return []models.Alert{{ID: uuid.New(), ChartID: chartID}}, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEcho(h *TransitsEchoHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestTransits_Current(t *testing.T) {
	e := newTestEcho(NewTransitsEchoHandler(applogger.Nop(), newFakeAnalysis(t), fakePositions{}))

	code, env := do(t, e, http.MethodGet, "/api/transits/current")
	require.Equal(t, http.StatusOK, code)
	var res models.CurrentAnalysis
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "natal-1", res.ChartID)
	assert.InDelta(t, 42, res.OverallInfluence, 1e-9)
}

func TestTransits_ErrorMapping(t *testing.T) {
	a := newFakeAnalysis(t)
	e := newTestEcho(NewTransitsEchoHandler(applogger.Nop(), a, fakePositions{}))

	a.err = usecase.ErrShutdown
	code, env := do(t, e, http.MethodGet, "/api/transits/current")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(env.Data), "ERR_UNAVAILABLE")

	a.err = errors.New("ephemeris offline")
	code, env = do(t, e, http.MethodPost, "/api/alerts/realtime")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, string(env.Data), "offline")

	code, env = do(t, e, http.MethodGet, "/api/transits/predictions?days=400")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), "days_ahead")

	code, _ = do(t, e, http.MethodGet, "/api/transits/predictions?days=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransits_PredictionsCachedPerWindow(t *testing.T) {
	a := newFakeAnalysis(t)
	e := newTestEcho(NewTransitsEchoHandler(nil, a, fakePositions{},
		WithResponseCache(icache.NewTTLCache(), time.Minute)))

	code, env := do(t, e, http.MethodGet, "/api/transits/predictions")
	require.Equal(t, http.StatusOK, code)
	var p models.Predictions
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 30, p.DaysAhead)

	code, _ = do(t, e, http.MethodGet, "/api/transits/predictions?days=30")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, a.calls())

	code, _ = do(t, e, http.MethodGet, "/api/transits/predictions?days=7")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, a.calls())
}

func TestTransits_PredictionsRateLimited(t *testing.T) {
	now := handlerNow
	e := newTestEcho(NewTransitsEchoHandler(applogger.Nop(), newFakeAnalysis(t), fakePositions{},
		WithRateLimit(2, time.Minute),
		WithHandlerClock(func() time.Time { return now })))

	for i := 0; i < 2; i++ {
		code, _ := do(t, e, http.MethodGet, "/api/transits/predictions?days=3")
		require.Equal(t, http.StatusOK, code)
	}
	code, env := do(t, e, http.MethodGet, "/api/transits/predictions?days=3")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Contains(t, string(env.Data), "ERR_RATE_LIMITED")
	assert.Contains(t, string(env.Data), `"window":"1m0s"`)
	assert.Contains(t, string(env.Data), `"limit":2`)

	now = now.Add(time.Minute)
	code, _ = do(t, e, http.MethodGet, "/api/transits/predictions?days=3")
	assert.Equal(t, http.StatusOK, code)
}

func TestTransits_Realtime(t *testing.T) {
	e := newTestEcho(NewTransitsEchoHandler(nil, newFakeAnalysis(t), fakePositions{}))

	code, env = do(t, e, http.MethodPost, "/api/alerts/realtime")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.Alert `json:"rows"`
		Total int64          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, models.PriorityCritical, list.Rows[0].Priority)
}

func TestTransits_Positions(t *testing.T) {
	e := newTestEcho(NewTransitsEchoHandler(nil, newFakeAnalysis(t), fakePositions{}))

	code, env := do(t, e, http.MethodGet, "/api/positions")
	require.Equal(t, http.StatusOK, code)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.True(t, snap.Time.Equal(handlerNow))

	code, env = do(t, e, http.MethodGet, "/api/positions?at=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 2024, snap.Time.Year())
	assert.Equal(t, time.January, snap.Time.Month())

	code, _ = do(t, e, http.MethodGet, "/api/positions?at=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransits_Series(t *testing.T) {
	e := newTestEcho(NewTransitsEchoHandler(nil, newFakeAnalysis(t), fakePositions{}))

	code, env := do(t, e, http.MethodGet, "/api/positions/series?from=2024-01-01&to=2024-01-03&step=1d&bodies=MARS")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.Snapshot `json:"rows"`
		Total int64             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.EqualValues(t, 3, list.Total)
	assert.Len(t, list.Rows[0].Positions, 1)
	assert.Contains(t, list.Rows[0].Positions, models.Mars)

	code, _ = do(t, e, http.MethodGet, "/api/positions/series?from=2024-01-01")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/positions/series?from=2024-01-01&to=2024-01-03&step=fast")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/positions/series?from=2024-01-03&to=2024-01-01")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransits_History(t *testing.T) {
	code, _ := do(t, newTestEcho(NewTransitsEchoHandler(nil, newFakeAnalysis(t), fakePositions{})),
		http.MethodGet, "/api/alerts/history")
	assert.Equal(t, http.StatusNotFound, code)

	archive := &archiveStub{}
	e := newTestEcho(NewTransitsEchoHandler(nil, newFakeAnalysis(t), fakePositions{},
		WithArchive(archive),
		WithHandlerClock(func() time.Time { return handlerNow })))

	code, env := do(t, e, http.MethodGet, "/api/alerts/history")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":1`)
	assert.Equal(t, "natal-1", archive.gotChart)
	assert.Equal(t, 100, archive.gotLimit)
	assert.True(t, archive.gotTo.Equal(handlerNow))
	assert.True(t, archive.gotFrom.Equal(handlerNow.Add(-defaultHistoryWindow)))

	code, _ = do(t, e, http.MethodGet, "/api/alerts/history?limit=5000")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/alerts/history?from=2024-06-02&to=2024-06-01")
	assert.Equal(t, http.StatusBadRequest, code)
}
