package usecase

import (
	"sort"
	"strings"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/services/geometry"
	"TransitWatch/internal/services/scoring"
)

// TransitAnalyzer scores transiting positions against one natal chart.
type TransitAnalyzer struct {
	chart      *models.NatalChart
	cusps      []float64
	orb        float64
	thresholds scoring.Thresholds
}

// NewTransitAnalyzer creates an analyzer. orb is the maximum aspect deviation in degrees.
func NewTransitAnalyzer(chart *models.NatalChart, orb float64, thresholds scoring.Thresholds) *TransitAnalyzer {
	return &TransitAnalyzer{
		chart:      chart,
		cusps:      chart.Houses(),
		orb:        orb,
		thresholds: thresholds,
	}
}

func (a *TransitAnalyzer) Chart() *models.NatalChart { return a.chart }
func (a *TransitAnalyzer) Thresholds() scoring.Thresholds { return a.thresholds }

// Placement returns sign and house for a transiting longitude.
func (a *TransitAnalyzer) Placement(lon float64) (sign, house int, err error) {
	house, err = geometry.HouseFromLongitude(lon, a.cusps)
	if err != nil {
		return 0, 0, err
	}
	return geometry.SignIndex(lon), house, nil
}

// BodyAspects returns the aspects body makes to every natal body, strongest first.
func (a *TransitAnalyzer) BodyAspects(body models.Body, pos models.PlanetaryPosition) ([]models.AspectMatch, error) {
	sign, house, err := a.Placement(pos.Longitude)
	if err != nil {
		return nil, &models.CalculationError{Op: "placement", Body: body, Err: err}
	}

	var out []models.AspectMatch
	for _, natal := range a.chart.Bodies() {
		np, _ := a.chart.Position(natal)
		m, ok := geometry.MatchAspect(pos.Longitude, np.Longitude, a.orb)
		if !ok {
			continue
		}
		m.BodyA = body
		m.BodyB = natal
		m.Strength = scoring.TransitStrength(m, body, sign, house)
		out = append(out, m)
	}
	sortAspects(out)
	return out, nil
}

// Aspects returns every transiting×natal aspect, strongest first.
// Any placement failure fails the whole set.
func (a *TransitAnalyzer) Aspects(positions models.BodyPositions) ([]models.AspectMatch, error) {
	var out []models.AspectMatch
	for _, body := range models.AllBodies {
		pos, ok := positions[body]
		if !ok {
			continue
		}
		ms, err := a.BodyAspects(body, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	sortAspects(out)
	return out, nil
}

// ActiveTransit describes one body's current placement. The impact analysis
// is left nil when it cannot be computed; the error is returned alongside.
func (a *TransitAnalyzer) ActiveTransit(body models.Body, pos models.PlanetaryPosition) (models.ActiveTransit, error) {
	at := models.ActiveTransit{Body: body, Longitude: pos.Longitude}

	sign, house, err := a.Placement(pos.Longitude)
	if err != nil {
		return at, &models.CalculationError{Op: "placement", Body: body, Err: err}
	}
	at.Sign = sign
	at.SignName = models.SignName(sign)
	at.House = house

	aspects, err := a.BodyAspects(body, pos)
	if err != nil {
		return at, err
	}
	at.Aspects = aspects
	at.Intensity = scoring.TransitIntensity(body, sign, house, aspects)

	analysis, err := a.thresholds.Analyze(body, sign, house, at.Intensity)
	if err != nil {
		return at, err
	}
	at.Analysis = analysis
	return at, nil
}

// ActiveTransits evaluates every body. A failing body keeps whatever fields
// were computed and reports its error in the returned map.
func (a *TransitAnalyzer) ActiveTransits(positions models.BodyPositions) ([]models.ActiveTransit, map[string]string) {
	var (
		out  []models.ActiveTransit
		errs map[string]string
	)
	for _, body := range models.AllBodies {
		pos, ok := positions[body]
		if !ok {
			continue
		}
		at, err := a.ActiveTransit(body, pos)
		if err != nil {
			if errs == nil {
				errs = map[string]string{}
			}
			errs[string(body)] = err.Error()
			at.Analysis = nil
			at.Error = err.Error()
		}
		out = append(out, at)
	}
	return out, errs
}

// Intensity returns the transit intensity of body at pos, used for threshold events.
func (a *TransitAnalyzer) Intensity(body models.Body, pos models.PlanetaryPosition) (float64, error) {
	sign, house, err := a.Placement(pos.Longitude)
	if err != nil {
		return 0, &models.CalculationError{Op: "intensity", Body: body, Err: err}
	}
	aspects, err := a.BodyAspects(body, pos)
	if err != nil {
		return 0, err
	}
	return scoring.TransitIntensity(body, sign, house, aspects), nil
}

// PlacementIntensity scores body in sign for sign change events.
func (a *TransitAnalyzer) PlacementIntensity(body models.Body, sign int, lon float64) float64 {
	house, err := geometry.HouseFromLongitude(lon, a.cusps)
	if err != nil {
		return 0
	}
	return scoring.PlacementStrength(body, sign, house)
}

func sortAspects(ms []models.AspectMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Strength != ms[j].Strength {
			return ms[i].Strength > ms[j].Strength
		}
		return ms[i].Exactness < ms[j].Exactness
	})
}

func displayName(b models.Body) string {
	s := string(b)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
