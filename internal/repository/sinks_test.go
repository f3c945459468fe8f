package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TransitWatch/internal/domain/models"
	pkghttp "TransitWatch/pkg/http"
	pkgkafka "TransitWatch/pkg/kafka"
	applogger "TransitWatch/pkg/logger"
)

func testAlert() models.Alert {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Alert{
		ID:        uuid.New(),
		ChartID:   "natal-1",
		Type:      models.EventSignEntry,
		Priority:  models.PriorityMedium,
		Timing:    models.TimingSoon,
		Message:   "MARS enters Taurus",
		Timestamp: ts,
		CreatedAt: ts.Add(-48 * time.Hour),
		Event: models.TransitEvent{
			Type:      models.EventSignEntry,
			Timestamp: ts,
			Body:      models.Mars,
			Sign:      1,
			Intensity: 55,
			Key:       "sign_entry:mars:1",
		},
	}
}

type recordingSink struct {
	mu   sync.Mutex
	got  []models.Alert
	fail error
}

func (s *recordingSink) Send(_ context.Context, a models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return s.fail
}

type notifMetrics struct {
	mu      sync.Mutex
	results map[string][]bool
}

func (m *notifMetrics) RecordAlert(string, string) {}
func (m *notifMetrics) RecordNotification(channel string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string][]bool{}
	}
	m.results[channel] = append(m.results[channel], ok)
}
func (m *notifMetrics) RecordCacheResult(bool) {}
func (m *notifMetrics) RecordTick() {}
func (m *notifMetrics) RecordDroppedUpdate() {}
func (m *notifMetrics) RecordError(string) {}
func (m *notifMetrics) RecordLatency(string, float64) {}
func (m *notifMetrics) RecordInfluence(string, float64) {}

func TestMultiSink_AllChannelsTriedAndErrorsJoined(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{fail: errors.New("boom")}
	also := &recordingSink{}
	m := &notifMetrics{}
	ms := NewMultiSink(m, applogger.Nop(),
		NamedSink{Name: "log", Sink: ok},
		NamedSink{Name: "webhook", Sink: bad},
		NamedSink{Name: "queue", Sink: also},
	)

	err := ms.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: boom")
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)
	assert.Len(t, also.got, 1)
	assert.Equal(t, []bool{true}, m.results["log"])
	assert.Equal(t, []bool{false}, m.results["webhook"])
	assert.Equal(t, []string{"log", "webhook", "queue"}, ms.Channels())
}

func TestMultiSink_NoChannels(t *testing.T) {
	assert.NoError(t, NewMultiSink(nil, nil).Send(context.Background(), testAlert()))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(applogger.NewWithWriter(&buf, "info"))
	require.NoError(t, s.Send(context.Background(), testAlert()))
	assert.Contains(t, buf.String(), `"chart":"natal-1"`)
	assert.Contains(t, buf.String(), `"priority":"medium"`)
}

type kafkaWriter struct {
	msgs []kafka.Message
}

func (w *kafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}
func (w *kafkaWriter) Close() error { return nil }

func TestKafkaSink_KeysByChart(t *testing.T) {
	w := &kafkaWriter{}
	s := NewKafkaSink(pkgkafka.NewProducerWithWriter(w), "transit-alerts")
	a := testAlert()
	require.NoError(t, s.Send(context.Background(), a))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "transit-alerts", w.msgs[0].Topic)
	assert.Equal(t, "natal-1", string(w.msgs[0].Key))
	require.Len(t, w.msgs[0].Headers, 2)
	assert.Equal(t, "sign_entry", string(w.msgs[0].Headers[0].Value))
	assert.Equal(t, "medium", string(w.msgs[0].Headers[1].Value))
	var decoded models.Alert
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, a.ID, decoded.ID)
}

type fakeQueue struct {
	types    []string
	payloads []interface{}
}

func (q *fakeQueue) PublishMessage(_ context.Context, msgType string, payload interface{}) error {
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

func TestQueueSink(t *testing.T) {
	q := &fakeQueue{}
	require.NoError(t, NewQueueSink(q).Send(context.Background(), testAlert()))
	assert.Equal(t, []string{AlertMessageType}, q.types)
	assert.IsType(t, models.Alert{}, q.payloads[0])
}

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got models.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}}, nil)
	a := testAlert()
	require.NoError(t, s.Send(context.Background(), a))
	assert.Equal(t, a.ID, got.ID)
}

func TestWebhookSink_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, MinRequests: 3, OpenTimeout: time.Minute}, applogger.Nop())
	for i := 0; i < 3; i++ {
		require.Error(t, s.Send(context.Background(), testAlert()))
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	err := s.Send(context.Background(), testAlert())
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookSink_ClientErrorsKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, MinRequests: 2}, nil)
	for i := 0; i < 4; i++ {
		err := s.Send(context.Background(), testAlert())
		require.Error(t, err)
		var se *pkghttp.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestArchiveSink(t *testing.T) {
	archive := newSQLiteArchive(t)
	a := testAlert()
	require.NoError(t, NewArchiveSink(archive).Send(context.Background(), a))
	got, err := archive.ListAlerts(context.Background(), a.ChartID, a.Timestamp.Add(-time.Hour), a.Timestamp.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub(applogger.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	a := testAlert()
	require.NoError(t, hub.Send(context.Background(), a))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var decoded models.Alert
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, a.ID, decoded.ID)
	assert.Equal(t, models.PriorityMedium, decoded.Priority)
}

func TestWSHub_CloseDisconnects(t *testing.T) {
	hub := NewWSHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.NoError(t, hub.Send(context.Background(), testAlert()))
}
