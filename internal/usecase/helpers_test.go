package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"TransitWatch/internal/domain/models"
	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/internal/services/ephemeris"
)

var equalHouses = []float64{0, 30, 60, 90, 120, 150, 180, 210, 240, 270, 300, 330}

// scriptedProvider returns tropical positions from fn, or err when set.
type scriptedProvider struct {
	mu    sync.Mutex
	fn    func(jd float64) models.BodyPositions
	err   error
	calls int
}

func (p *scriptedProvider) At(jd float64) (models.Ephemeris, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return models.Ephemeris{}, p.err
	}
	return models.Ephemeris{JulianDay: jd, Tropical: p.fn(jd)}, nil
}

func (p *scriptedProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// staticPositions places every listed body at a fixed longitude.
func staticPositions(lons map[models.Body]float64) func(float64) models.BodyPositions {
	return func(float64) models.BodyPositions {
		out := make(models.BodyPositions, len(lons))
		for b, l := range lons {
			out[b] = models.PlanetaryPosition{Longitude: l}
		}
		return out
	}
}

// movingBody advances one body at degPerDay from lon0 at the J2000 epoch.
func movingBody(b models.Body, lon0, degPerDay float64) func(float64) models.BodyPositions {
	return func(jd float64) models.BodyPositions {
		l := lon0 + degPerDay*(jd-ephemeris.J2000)
		for l < 0 {
			l += 360
		}
		for l >= 360 {
			l -= 360
		}
		return models.BodyPositions{b: {Longitude: l, Speed: degPerDay}}
	}
}

func mustChart(positions map[models.Body]float64) *models.NatalChart {
	bp := make(models.BodyPositions, len(positions))
	for b, l := range positions {
		bp[b] = models.PlanetaryPosition{Longitude: l}
	}
	c, err := models.NewNatalChart("natal-1", bp, equalHouses, 0)
	if err != nil {
		panic(err)
	}
	return c
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type countingMetrics struct {
	mu            sync.Mutex
	alerts        map[string]int
	errors        map[string]int
	notifications int
	ticks         int
	dropped       int
	influence     float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{alerts: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordAlert(eventType, priority string) {
	m.mu.Lock()
	m.alerts[eventType+"/"+priority]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordNotification(string, bool) {
	m.mu.Lock()
	m.notifications++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordCacheResult(bool) {}
func (m *countingMetrics) RecordTick() {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordDroppedUpdate() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *countingMetrics) RecordLatency(string, float64) {}
func (m *countingMetrics) RecordInfluence(_ string, v float64) {
	m.mu.Lock()
	m.influence = v
	m.mu.Unlock()
}

func (m *countingMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMemDedup() *memDedup { return &memDedup{seen: map[string]bool{}} }

func (d *memDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type captureSink struct {
	mu   sync.Mutex
	sent []models.Alert
	fail bool
}

func (s *captureSink) Send(_ context.Context, a models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	if s.fail {
		return errors.New("channel down")
	}
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (b *memBlobs) Load(_ context.Context, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.blobs[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return v, nil
}

func (b *memBlobs) Save(_ context.Context, id string, blob []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[id] = blob
	return nil
}
