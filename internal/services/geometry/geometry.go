package geometry

import (
	"math"

	"TransitWatch/internal/domain/models"
)

// Normalize maps any finite longitude into [0,360).
func Normalize(l float64) float64 {
	r := math.Mod(l, 360)
	if r < 0 {
		r += 360
	}
	// -tiny + 360 rounds to 360
	if r >= 360 {
		r = 0
	}
	return r
}

// AngularSeparation returns the shortest circular distance between a and b, in [0,180].
func AngularSeparation(a, b float64) float64 {
	d := Normalize(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// SignIndex returns the zodiac sign index 0..11 for a longitude.
func SignIndex(l float64) int {
	idx := int(math.Floor(Normalize(l) / 30))
	if idx > 11 {
		idx = 11
	}
	return idx
}

// AspectDef is one entry of the aspect catalogue.
type AspectDef struct {
	Angle float64
	Name  string
	Major bool
}

// Catalogue lists aspects in match order: majors first, then minors.
var Catalogue = []AspectDef{
	{Angle: 0, Name: "conjunction", Major: true},
	{Angle: 60, Name: "sextile", Major: true},
	{Angle: 90, Name: "square", Major: true},
	{Angle: 120, Name: "trine", Major: true},
	{Angle: 180, Name: "opposition", Major: true},
	{Angle: 30, Name: "semi-sextile"},
	{Angle: 45, Name: "semi-square"},
	{Angle: 135, Name: "sesquiquadrate"},
	{Angle: 150, Name: "quincunx"},
}

// MatchAspect returns the first catalogue aspect whose angle lies within orb
// of the separation between a and b. When orbs overlap the earlier catalogue
// entry wins even if a later one is closer. Strength and bodies are left for
// the caller. A negative or non-finite orb never matches.
func MatchAspect(a, b, orb float64) (models.AspectMatch, bool) {
	if math.IsNaN(orb) || math.IsInf(orb, 0) || orb < 0 {
		return models.AspectMatch{}, false
	}
	sep := AngularSeparation(a, b)
	for _, def := range Catalogue {
		exact := math.Abs(sep - def.Angle)
		if exact <= orb {
			return models.AspectMatch{
				Angle:     def.Angle,
				Name:      def.Name,
				Major:     def.Major,
				Exactness: exact,
				Orb:       orb,
			}, true
		}
	}
	return models.AspectMatch{}, false
}

// HouseFromLongitude returns the 1-based house containing l.
// The cusp array must hold 12 ascending (wrap-around) longitudes.
func HouseFromLongitude(l float64, cusps []float64) (int, error) {
	if err := models.ValidateCusps(cusps); err != nil {
		return 0, err
	}
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, models.NewValidationError("longitude", "must be finite")
	}
	l = Normalize(l)
	for i := 0; i < 12; i++ {
		start := cusps[i]
		span := Normalize(cusps[(i+1)%12] - start)
		if Normalize(l-start) < span {
			return i + 1, nil
		}
	}
	// unreachable for validated cusps
	return 12, nil
}
