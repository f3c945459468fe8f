package ephemeris

import (
	"math"
	"time"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/services/geometry"
)

const (
	// J2000 is the julian day of 2000-01-01T12:00:00Z.
	J2000 = 2451545.0
	// UnixEpochJD is the julian day of 1970-01-01T00:00:00Z.
	UnixEpochJD = 2440587.5

	secondsPerDay = 86400.0

	MinJulianDay = 0.0
	MaxJulianDay = 5373484.5 // 9999-12-31
)

type meanElement struct {
	l0   float64 // mean longitude at J2000, degrees
	rate float64 // degrees per day
}

var meanElements = map[models.Body]meanElement{
	models.Sun:     {l0: 280.460, rate: 0.9856474},
	models.Moon:    {l0: 218.316, rate: 13.176396},
	models.Mercury: {l0: 252.251, rate: 4.092339},
	models.Venus:   {l0: 181.980, rate: 1.602131},
	models.Mars:    {l0: 355.433, rate: 0.524039},
	models.Jupiter: {l0: 34.351, rate: 0.083056},
	models.Saturn:  {l0: 50.077, rate: 0.033371},
	models.Rahu:    {l0: 125.045, rate: -0.052954},
}

// MeanMotionProvider computes positions from a linear mean-longitude model
// with no perturbation terms. Ketu is always opposite Rahu.
type MeanMotionProvider struct{}

// NewMeanMotionProvider returns the mean-motion model.
func NewMeanMotionProvider() *MeanMotionProvider { return &MeanMotionProvider{} }

// At returns tropical positions for jd.
func (p *MeanMotionProvider) At(jd float64) (models.Ephemeris, error) {
	if err := ValidateJulianDay(jd); err != nil {
		return models.Ephemeris{}, err
	}

	d := jd - J2000
	out := make(models.BodyPositions, len(models.AllBodies))
	for body, el := range meanElements {
		out[body] = models.PlanetaryPosition{
			Longitude: geometry.Normalize(el.l0 + el.rate*d),
			Speed:     el.rate,
		}
	}
	rahu := out[models.Rahu]
	out[models.Ketu] = models.PlanetaryPosition{
		Longitude: geometry.Normalize(rahu.Longitude + 180),
		Speed:     rahu.Speed,
	}

	return models.Ephemeris{JulianDay: jd, Tropical: out}, nil
}

// ValidateJulianDay rejects non-finite or out-of-range day counts.
func ValidateJulianDay(jd float64) error {
	if math.IsNaN(jd) || math.IsInf(jd, 0) {
		return models.NewValidationError("julian_day", "must be finite")
	}
	if jd < MinJulianDay || jd > MaxJulianDay {
		return models.NewValidationError("julian_day", "out of supported range: %v", jd)
	}
	return nil
}

// JulianDay converts a wall-clock time to a julian day.
func JulianDay(t time.Time) float64 {
	return float64(t.Unix())/secondsPerDay + float64(t.Nanosecond())/(secondsPerDay*1e9) + UnixEpochJD
}

// TimeFromJulianDay converts a julian day back to UTC.
func TimeFromJulianDay(jd float64) time.Time {
	secs := (jd - UnixEpochJD) * secondsPerDay
	whole := math.Floor(secs)
	// millisecond resolution is all a float64 julian day can carry
	ms := math.Round((secs - whole) * 1e3)
	return time.Unix(int64(whole), int64(ms)*int64(time.Millisecond)).UTC()
}

// Sidereal returns the sidereal positions of e for the given ayanamsa.
func Sidereal(e models.Ephemeris, ayanamsa float64) models.BodyPositions {
	out := make(models.BodyPositions, len(e.Tropical))
	for b, p := range e.Tropical {
		p.Longitude = geometry.Normalize(p.Longitude - ayanamsa)
		out[b] = p
	}
	return out
}
