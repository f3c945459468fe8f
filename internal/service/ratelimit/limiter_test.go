package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BucketDrainsAndRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN("client", 3, time.Minute), "request %d", i)
	}
	assert.False(t, l.AllowN("client", 3, time.Minute))
	assert.True(t, l.AllowN("other", 3, time.Minute))

	// one token back every 20s
	now = now.Add(20 * time.Second)
	assert.True(t, l.AllowN("client", 3, time.Minute))
	assert.False(t, l.AllowN("client", 3, time.Minute))

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowN("client", 3, time.Minute))
	}
	assert.False(t, l.AllowN("client", 3, time.Minute))
}

func TestLimiter_Disabled(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		assert.True(t, l.AllowN("k", 0, time.Minute))
	}
}
