package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type windowRequest struct {
	Days  int    `query:"days" default:"30" validate:"gte=1,lte=365"`
	Label string `query:"label"`
}

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/window", func(c echo.Context) error {
		req := new(windowRequest)
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/limited", func(c echo.Context) error {
		return AppErrorResponse(c, TooManyRequestsError("slow down"))
	})
	e.GET("/broken", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("hidden"))
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("kaboom")
	})
}

func serve(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body APIResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_QueryBindingDefaultsAndValidation(t *testing.T) {
	s := NewServer(routes{})

	rec, body := serve(t, s, http.MethodGet, "/window")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body.Data.(map[string]interface{})
	assert.EqualValues(t, 30, data["Days"])

	rec, _ = serve(t, s, http.MethodGet, "/window?days=7&label=week")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Days":7`)

	rec, body = serve(t, s, http.MethodGet, "/window?days=900")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Contains(t, rec.Body.String(), "ERR_LTE")
	assert.Contains(t, rec.Body.String(), `"field":"days"`)
	assert.Contains(t, rec.Body.String(), "days must be at most 365")

	rec, _ = serve(t, s, http.MethodGet, "/window?days=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_BIND")
}

func TestServer_ErrorResponses(t *testing.T) {
	s := NewServer(routes{})

	rec, body := serve(t, s, http.MethodGet, "/limited")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too Many Requests", body.Message)
	assert.Contains(t, rec.Body.String(), "ERR_RATE_LIMITED")

	rec, _ = serve(t, s, http.MethodGet, "/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hidden")

	rec, _ = serve(t, s, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_HealthMetricsAndCORS(t *testing.T) {
	s := NewServer(routes{}, WithMetricsPath("/metrics"))

	rec, _ := serve(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	serve(t, s, http.MethodGet, "/window")
	rec, _ = serve(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `transitwatch_http_requests_total{method="GET",route="/window",status="200"}`)

	req := httptest.NewRequest(http.MethodOptions, "/window", nil)
	req.Header.Set(echo.HeaderOrigin, "http://example.test")
	pre := httptest.NewRecorder()
	s.Echo().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "http://example.test", pre.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServer_CORSDisabled(t *testing.T) {
	s := NewServer(routes{}, WithCORS(false))

	req := httptest.NewRequest(http.MethodGet, "/window", nil)
	req.Header.Set(echo.HeaderOrigin, "http://example.test")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestAppError_ParamsAndCause(t *testing.T) {
	cause := errors.New("draining")
	err := ServiceUnavailableError("shutting down").WithError(cause).WithParam("retry", "later")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "shutting down: draining", err.Error())

	b, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{"code":"ERR_UNAVAILABLE","message":"shutting down","params":{"retry":"later"}}`, string(b))
}

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream"))
			return
		}
		var in map[string]int
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"doubled": in["n"] * 2})
	}))
	defer srv.Close()

	c := NewClient()
	var out map[string]int
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]int{"n": 21},
	}, &out))
	assert.Equal(t, 42, out["doubled"])

	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"fail": {"1"}},
	}, nil)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream", se.Body)
	assert.True(t, se.Temporary())
	assert.False(t, IsClientError(err))
	assert.True(t, IsClientError(&StatusError{Code: http.StatusBadRequest}))
	assert.False(t, IsClientError(&StatusError{Code: http.StatusTooManyRequests}))
}

func TestClient_HeadersAndRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "transitwatch-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("transitwatch-test"), WithTimeout(time.Second))
	var raw []byte
	require.NoError(t, c.SendAndParse(context.Background(), &RequestOptions{
		Method:  MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Body:    []byte(`{}`),
	}, &raw))
	assert.Equal(t, "pong", string(raw))
}
