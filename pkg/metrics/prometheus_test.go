package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordAlert("aspect_formation", "high")
	r.RecordAlert("aspect_formation", "high")
	r.RecordNotification("webhook", false)
	r.RecordCacheResult(true)
	r.RecordCacheResult(false)
	r.RecordCacheResult(false)
	r.RecordTick()
	r.RecordInfluence("c1", 55)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.alertsTotal.WithLabelValues("aspect_formation", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notificationsTotal.WithLabelValues("webhook", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticksTotal))
	assert.Equal(t, 55.0, testutil.ToFloat64(r.influence.WithLabelValues("c1")))
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
