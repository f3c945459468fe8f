package models

import "math"

// NatalChart is the fixed reference configuration transits are compared
// against. Construct with NewNatalChart; it is immutable afterwards.
type NatalChart struct {
	id        string
	positions BodyPositions
	houses    [12]float64
	ayanamsa  float64
}

// NewNatalChart validates the inputs and returns an immutable chart.
// Cusps must be 12 finite longitudes in [0,360) ascending with wrap-around.
func NewNatalChart(id string, positions BodyPositions, cusps []float64, ayanamsa float64) (*NatalChart, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	if math.IsNaN(ayanamsa) || math.IsInf(ayanamsa, 0) {
		return nil, NewValidationError("ayanamsa", "must be finite")
	}
	if err := ValidateCusps(cusps); err != nil {
		return nil, err
	}
	for b, p := range positions {
		if !IsValidBody(b) {
			return nil, NewValidationError("positions", "unknown body %q", b)
		}
		if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
			return nil, NewValidationError("positions", "%s longitude must be finite", b)
		}
	}

	c := &NatalChart{id: id, positions: make(BodyPositions, len(positions)), ayanamsa: ayanamsa}
	for b, p := range positions {
		p.Longitude = wrap360(p.Longitude)
		c.positions[b] = p
	}
	copy(c.houses[:], cusps)
	return c, nil
}

// ValidateCusps checks count, range and wrap-around ordering of house cusps.
func ValidateCusps(cusps []float64) error {
	if len(cusps) != 12 {
		return NewValidationError("houses", "expected 12 cusps, got %d", len(cusps))
	}
	for i, c := range cusps {
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c >= 360 {
			return NewValidationError("houses", "cusp %d out of range: %v", i+1, c)
		}
	}
	// Each forward span must be positive and the spans must close the circle
	// exactly once.
	total := 0.0
	for i := range cusps {
		span := wrap360(cusps[(i+1)%12] - cusps[i])
		if span <= 0 {
			return NewValidationError("houses", "cusp %d does not advance", i+2)
		}
		total += span
	}
	if math.Abs(total-360) > 1e-6 {
		return NewValidationError("houses", "cusps are not monotonic")
	}
	return nil
}

func (c *NatalChart) ID() string { return c.id }
func (c *NatalChart) Ayanamsa() float64 { return c.ayanamsa }

// Houses returns a copy of the cusp longitudes.
func (c *NatalChart) Houses() []float64 {
	out := make([]float64, 12)
	copy(out, c.houses[:])
	return out
}

// Positions returns a copy of the natal positions.
func (c *NatalChart) Positions() BodyPositions { return c.positions.Clone() }

// Position returns the natal position of b.
func (c *NatalChart) Position(b Body) (PlanetaryPosition, bool) {
	p, ok := c.positions[b]
	return p, ok
}

// Bodies returns the natal bodies in canonical order.
func (c *NatalChart) Bodies() []Body {
	out := make([]Body, 0, len(c.positions))
	for _, b := range AllBodies {
		if _, ok := c.positions[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

func wrap360(x float64) float64 {
	r := math.Mod(x, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}
