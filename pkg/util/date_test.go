package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeOffsetIsUTC(t *testing.T) {
	got, ok := ParseTime("2024-10-10T12:00:00+02:00")
	if !ok {
		t.Fatalf("expected ok")
	}
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 10, got.Hour())
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDateOnly(t *testing.T) {
	got, ok := ParseTime("2025-01-31")
	assert.True(t, ok)
	assert.True(t, got.Equal(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)))

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseTime("-5")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"6h":  6 * time.Hour,
		"90m": 90 * time.Minute,
		"3d":  72 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "xd", "soon"} {
		_, ok := ParseDuration(in)
		assert.False(t, ok, in)
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"mars", "sun", "moon"}, SplitCSV("Mars, sun", "", " MOON "))
	assert.Nil(t, SplitCSV())
	assert.Equal(t, 7, ParseIntDefault("7", 1))
	assert.Equal(t, 1, ParseIntDefault("x", 1))
}
