package repository

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"TransitWatch/internal/domain/models"
)

// ChartFile is the on-disk YAML form of a natal chart. Positions are
// sidereal longitudes keyed by lowercase body name.
type ChartFile struct {
	ID        string             `yaml:"id"`
	Ayanamsa  float64            `yaml:"ayanamsa"`
	Houses    []float64          `yaml:"houses"`
	Positions map[string]float64 `yaml:"positions"`
}

// LoadChartFile reads and validates a chart file.
func LoadChartFile(path string) (*models.NatalChart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart file: %w", err)
	}
	return ParseChart(data)
}

// ParseChart decodes YAML chart data into a validated chart.
func ParseChart(data []byte) (*models.NatalChart, error) {
	var f ChartFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse chart: %w", err)
	}
	return f.Chart()
}

// Chart converts the file form into a domain chart.
func (f ChartFile) Chart() (*models.NatalChart, error) {
	positions := make(models.BodyPositions, len(f.Positions))
	for name, lon := range f.Positions {
		b := models.Body(strings.ToLower(strings.TrimSpace(name)))
		if !models.IsValidBody(b) {
			return nil, models.NewValidationError("positions", "unknown body %q", name)
		}
		positions[b] = models.PlanetaryPosition{Longitude: lon}
	}
	return models.NewNatalChart(f.ID, positions, f.Houses, f.Ayanamsa)
}
