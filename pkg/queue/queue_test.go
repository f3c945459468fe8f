package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	ChartID string `json:"chart_id"`
	Count   int    `json:"count"`
}

func TestParsePayload(t *testing.T) {
	want := samplePayload{ChartID: "natal-1", Count: 3}

	got, err := ParsePayload[samplePayload](want)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[samplePayload](&want)
	require.NoError(t, err)
	assert.Same(t, &want, got)

	// payloads decoded from redis arrive as generic maps
	got, err = ParsePayload[samplePayload](map[string]interface{}{"chart_id": "natal-1", "count": 3.0})
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = ParsePayload[samplePayload](json.RawMessage(`{"chart_id":"natal-1","count":3}`))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	list, err := ParsePayload[[]samplePayload]([]interface{}{map[string]interface{}{"chart_id": "a"}})
	require.NoError(t, err)
	require.Len(t, *list, 1)
	assert.Equal(t, "a", (*list)[0].ChartID)
}

func TestParsePayload_Invalid(t *testing.T) {
	_, err := ParsePayload[samplePayload](42)
	assert.ErrorContains(t, err, "invalid payload type")

	_, err = ParsePayload[samplePayload](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestQueueConfig_Backoff(t *testing.T) {
	cfg := (&QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}).withDefaults()
	assert.Equal(t, time.Second, cfg.backoff(1))
	assert.Equal(t, 2*time.Second, cfg.backoff(2))
	assert.Equal(t, 4*time.Second, cfg.backoff(3))
	assert.Equal(t, 5*time.Second, cfg.backoff(4))
	assert.Equal(t, 5*time.Second, cfg.backoff(30))
}

func TestQueueConfig_Defaults(t *testing.T) {
	var nilCfg *QueueConfig
	cfg := nilCfg.withDefaults()
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay)
	assert.Equal(t, 320*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil, ModeProducerOnly, WithKeyPrefix("tw:q"))
	assert.EqualError(t, q.Enqueue(context.Background(), "transit_alert", samplePayload{}), "queue not running")
	assert.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, "tw:q:dlq", q.key("dlq"))
	assert.Equal(t, "producer-only", ModeProducerOnly.String())
}
