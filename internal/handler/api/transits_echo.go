package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	icache "TransitWatch/internal/service/cache"
	"TransitWatch/internal/service/metrics"
	"TransitWatch/internal/service/ratelimit"
	"TransitWatch/internal/usecase"
	pkgcache "TransitWatch/pkg/cache"
	xhttp "TransitWatch/pkg/http"
	applogger "TransitWatch/pkg/logger"
	xutil "TransitWatch/pkg/util"
)

const defaultHistoryWindow = 30 * 24 * time.Hour

// Analysis is the orchestrator surface served over HTTP.
type Analysis interface {
	Chart() *models.NatalChart
	GetCurrentTransitAnalysis(ctx context.Context) (*models.CurrentAnalysis, error)
	GenerateTransitPredictions(ctx context.Context, daysAhead int) (*models.Predictions, error)
	ProcessRealtimeAlerts(ctx context.Context) ([]models.Alert, error)
}

// Positions answers position queries.
type Positions interface {
	PositionsAt(ts time.Time) (models.Snapshot, error)
	CurrentPositions() (models.Snapshot, error)
	CollectSeries(start, end time.Time, step time.Duration) ([]models.Snapshot, error)
}

// TransitsEchoHandler serves the transit API.
type TransitsEchoHandler struct {
	l         *applogger.Logger
	analysis  Analysis
	positions Positions
	archive   domrepo.AlertArchive
	stream    http.Handler

	cache    icache.BytesCache
	cacheTTL time.Duration

	rl         *ratelimit.Limiter
	rateLimit  int
	rateWindow time.Duration

	now func() time.Time
}

// HandlerOption configures TransitsEchoHandler.
type HandlerOption func(*TransitsEchoHandler)

// WithResponseCache caches prediction responses for ttl.
func WithResponseCache(c icache.BytesCache, ttl time.Duration) HandlerOption {
	return func(h *TransitsEchoHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

// WithRateLimit allows n prediction requests per client per window.
func WithRateLimit(n int, window time.Duration) HandlerOption {
	return func(h *TransitsEchoHandler) {
		h.rateLimit = n
		h.rateWindow = window
	}
}

// WithArchive enables the alert history endpoint.
func WithArchive(a domrepo.AlertArchive) HandlerOption {
	return func(h *TransitsEchoHandler) { h.archive = a }
}

// WithAlertStream mounts a websocket alert stream at /ws/alerts.
func WithAlertStream(s http.Handler) HandlerOption {
	return func(h *TransitsEchoHandler) { h.stream = s }
}

// WithHandlerClock replaces the time source.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *TransitsEchoHandler) { h.now = now }
}

func NewTransitsEchoHandler(l *applogger.Logger, analysis Analysis, positions Positions, opts ...HandlerOption) *TransitsEchoHandler {
	metrics.Register()
	h := &TransitsEchoHandler{
		l:         l,
		analysis:  analysis,
		positions: positions,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rl = ratelimit.NewWithClock(h.now)
	return h
}

func (h *TransitsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/transits/current", h.Current)
	g.GET("/transits/predictions", h.Predictions)
	g.POST("/alerts/realtime", h.Realtime)
	g.GET("/alerts/history", h.History)
	g.GET("/positions", h.Positions)
	g.GET("/positions/series", h.Series)

	if h.stream != nil {
		e.GET("/ws/alerts", echo.WrapHandler(h.stream))
	}
}

func (h *TransitsEchoHandler) Current(c echo.Context) error {
	defer h.observe("current", time.Now())

	res, err := h.analysis.GetCurrentTransitAnalysis(c.Request().Context())
	if err != nil {
		return h.fail(c, "current", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *TransitsEchoHandler) Predictions(c echo.Context) error {
	const endpoint = "predictions"
	defer h.observe(endpoint, time.Now())

	req := &models.PredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if h.rateLimit > 0 && !h.rl.AllowN(c.RealIP()+":"+endpoint, h.rateLimit, h.rateWindow) {
		metrics.APIRateLimited.WithLabelValues(endpoint).Inc()
		if h.l != nil {
			h.l.Warn("transits.predictions rate_limited", applogger.String("remote", c.RealIP()))
		}
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited").
			WithParam("limit", h.rateLimit).
			WithParam("window", h.rateWindow.String()))
	}

	ctx := c.Request().Context()
	cacheKey := pkgcache.GenerateKeyWithParams(endpoint, h.analysis.Chart().ID(), req.Days)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(ctx, cacheKey); err != nil {
			if h.l != nil {
				h.l.Warn("transits.predictions cache_get_error", applogger.Error(err))
			}
		} else if ok {
			metrics.APICache.WithLabelValues(endpoint, "hit").Inc()
			return c.JSONBlob(http.StatusOK, b)
		}
		metrics.APICache.WithLabelValues(endpoint, "miss").Inc()
	}

	res, err := h.analysis.GenerateTransitPredictions(ctx, req.Days)
	if err != nil {
		return h.fail(c, endpoint, err)
	}

	b, err := json.Marshal(xhttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    res,
	})
	if err != nil {
		return h.fail(c, endpoint, err)
	}
	if h.cache != nil {
		if err := h.cache.SetBytes(ctx, cacheKey, b, h.cacheTTL); err != nil && h.l != nil {
			h.l.Warn("transits.predictions cache_set_error", applogger.Error(err))
		}
	}
	return c.JSONBlob(http.StatusOK, b)
}

func (h *TransitsEchoHandler) Realtime(c echo.Context) error {
	defer h.observe("realtime", time.Now())

	alerts, err := h.analysis.ProcessRealtimeAlerts(c.Request().Context())
	if err != nil {
		return h.fail(c, "realtime", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *TransitsEchoHandler) Positions(c echo.Context) error {
	defer h.observe("positions", time.Now())

	req := &models.PositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var (
		snap models.Snapshot
		err  error
	)
	if req.At == "" {
		snap, err = h.positions.CurrentPositions()
	} else {
		at, ok := xhttp.ParseTime(req.At)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid time %q", req.At))
		}
		snap, err = h.positions.PositionsAt(at)
	}
	if err != nil {
		return h.fail(c, "positions", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *TransitsEchoHandler) Series(c echo.Context) error {
	defer h.observe("series", time.Now())

	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := xhttp.ParseTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
	}
	to, ok := xhttp.ParseTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
	}
	step, ok := xhttp.ParseDuration(req.Step)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid step %q", req.Step))
	}

	series, err := h.positions.CollectSeries(from, to, step)
	if err != nil {
		return h.fail(c, "series", err)
	}

	if names := xutil.SplitCSV(req.Bodies...); len(names) > 0 {
		bodies := models.ParseBodies(names)
		for i := range series {
			filtered := make(models.BodyPositions, len(bodies))
			for _, b := range bodies {
				if p, ok := series[i].Positions[b]; ok {
					filtered[b] = p
				}
			}
			series[i].Positions = filtered
		}
	}
	return xhttp.ListResponse(c, series, int64(len(series)))
}

func (h *TransitsEchoHandler) History(c echo.Context) error {
	defer h.observe("history", time.Now())

	if h.archive == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("alert archive disabled"))
	}
	req := &models.AlertHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := h.now().UTC()
	to := xhttp.ParseTimeDefault(req.To, now)
	from := xhttp.ParseTimeDefault(req.From, to.Add(-defaultHistoryWindow))
	if !from.Before(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to"))
	}

	alerts, err := h.archive.ListAlerts(c.Request().Context(), h.analysis.Chart().ID(), from, to, req.Limit)
	if err != nil {
		return h.fail(c, "history", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *TransitsEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code:    "ERR_INVALID",
			Field:   ve.Field,
			Message: ve.Reason,
		}})
	case errors.Is(err, usecase.ErrShutdown):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("shutting down").WithError(err))
	}

	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	if h.l != nil {
		h.l.Error("transits."+endpoint+" error", applogger.Error(err))
	}
	return xhttp.InternalServerErrorResponse(c)
}

func (h *TransitsEchoHandler) observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
