package scoring

import (
	"math"

	"TransitWatch/internal/domain/models"
)

// Weight applied to each strength term.
const k = 5.0

// Thresholds split intensities into critical, medium and low.
type Thresholds struct {
	Critical float64
	Medium   float64
}

// DefaultThresholds flags intensity above 70 as critical and above 40 as medium.
var DefaultThresholds = Thresholds{Critical: 70, Medium: 40}

// Dignity classes.
const (
	DignityExalted     = "exalted"
	DignityOwn         = "own"
	DignityNeutral     = "neutral"
	DignityDebilitated = "debilitated"
)

// House classes.
const (
	HouseAngular   = "angular"
	HouseSuccedent = "succedent"
	HouseCadent    = "cadent"
)

var exaltation = map[models.Body]int{
	models.Sun:     0,  // Aries
	models.Moon:    1,  // Taurus
	models.Mercury: 5,  // Virgo
	models.Venus:   11, // Pisces
	models.Mars:    9,  // Capricorn
	models.Jupiter: 3,  // Cancer
	models.Saturn:  6,  // Libra
	models.Rahu:    1,  // Taurus
	models.Ketu:    7,  // Scorpio
}

var ownSigns = map[models.Body][]int{
	models.Sun:     {4},
	models.Moon:    {3},
	models.Mercury: {2, 5},
	models.Venus:   {1, 6},
	models.Mars:    {0, 7},
	models.Jupiter: {8, 11},
	models.Saturn:  {9, 10},
	models.Rahu:    {10},
	models.Ketu:    {7},
}

// Slow bodies dominate a transit; fast ones pass quickly.
var speedWeight = map[models.Body]float64{
	models.Sun:     1,
	models.Moon:    0,
	models.Mercury: 0.5,
	models.Venus:   0.5,
	models.Mars:    1,
	models.Jupiter: 2,
	models.Saturn:  3,
	models.Rahu:    3,
	models.Ketu:    3,
}

var houseThemes = map[int][]string{
	1:  {"self", "vitality", "appearance"},
	2:  {"wealth", "speech", "family"},
	3:  {"courage", "siblings", "communication"},
	4:  {"home", "mother", "emotional security"},
	5:  {"creativity", "children", "learning"},
	6:  {"health", "service", "obstacles"},
	7:  {"partnership", "marriage", "contracts"},
	8:  {"transformation", "shared resources", "longevity"},
	9:  {"fortune", "philosophy", "travel"},
	10: {"career", "status", "authority"},
	11: {"gains", "networks", "aspirations"},
	12: {"release", "expenses", "solitude"},
}

// Dignity returns the dignity class and its score for body in sign.
// Exaltation is checked before own sign.
func Dignity(b models.Body, sign int) (string, float64) {
	if ex, ok := exaltation[b]; ok {
		if ex == sign {
			return DignityExalted, 2
		}
		if (ex+6)%12 == sign {
			return DignityDebilitated, -2
		}
	}
	for _, s := range ownSigns[b] {
		if s == sign {
			return DignityOwn, 1
		}
	}
	return DignityNeutral, 0
}

// HouseSignificance classifies a 1-based house and returns its weight.
func HouseSignificance(house int) (string, float64) {
	switch house {
	case 1, 4, 7, 10:
		return HouseAngular, 2
	case 2, 5, 8, 11:
		return HouseSuccedent, 1
	default:
		return HouseCadent, 0
	}
}

// SpeedWeight returns the static weight for b.
func SpeedWeight(b models.Body) float64 { return speedWeight[b] }

// HouseThemes returns the life areas associated with a house.
func HouseThemes(house int) []string {
	return append([]string(nil), houseThemes[house]...)
}

// TransitStrength scores an aspect made by a transiting body placed in sign
// and house. The result is clamped to [0,100].
func TransitStrength(m models.AspectMatch, b models.Body, sign, house int) float64 {
	return clamp(PlacementStrength(b, sign, house) + (m.Orb-m.Exactness)*k)
}

// PlacementStrength scores a body's placement without any aspect term.
func PlacementStrength(b models.Body, sign, house int) float64 {
	_, dignity := Dignity(b, sign)
	_, sig := HouseSignificance(house)
	return clamp(50 + dignity*k + sig*k + SpeedWeight(b)*k)
}

// TransitIntensity is the stronger of the placement score and the best aspect.
func TransitIntensity(b models.Body, sign, house int, aspects []models.AspectMatch) float64 {
	best := PlacementStrength(b, sign, house)
	for _, a := range aspects {
		if a.Strength > best {
			best = a.Strength
		}
	}
	return best
}

// Level maps an intensity to critical, medium or low.
func (t Thresholds) Level(intensity float64) string {
	switch {
	case intensity > t.Critical:
		return "critical"
	case intensity > t.Medium:
		return "medium"
	default:
		return "low"
	}
}

// OverallInfluence is the mean intensity of the transits, or 0 for none.
func OverallInfluence(transits []models.ActiveTransit) float64 {
	if len(transits) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range transits {
		sum += t.Intensity
	}
	return sum / float64(len(transits))
}

// Analyze builds the impact analysis for a placement.
func (t Thresholds) Analyze(b models.Body, sign, house int, intensity float64) (*models.ImpactAnalysis, error) {
	if house < 1 || house > 12 {
		return nil, &models.CalculationError{Op: "impact", Body: b, Err: models.NewValidationError("house", "out of range: %d", house)}
	}
	if sign < 0 || sign > 11 {
		return nil, &models.CalculationError{Op: "impact", Body: b, Err: models.NewValidationError("sign", "out of range: %d", sign)}
	}
	if math.IsNaN(intensity) {
		return nil, &models.CalculationError{Op: "impact", Body: b, Err: models.NewValidationError("intensity", "not a number")}
	}
	dignity, _ := Dignity(b, sign)
	class, _ := HouseSignificance(house)
	return &models.ImpactAnalysis{
		House:      house,
		HouseClass: class,
		Dignity:    dignity,
		Themes:     HouseThemes(house),
		Level:      t.Level(intensity),
	}, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
