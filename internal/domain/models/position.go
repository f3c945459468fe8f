package models

import "time"

// PlanetaryPosition is the angular placement of one body at one instant.
type PlanetaryPosition struct {
	Longitude float64 `json:"longitude"` // degrees, [0,360)
	Latitude  float64 `json:"latitude"`
	Speed     float64 `json:"speed"` // mean degrees/day
}

// BodyPositions maps each tracked body to its position.
type BodyPositions map[Body]PlanetaryPosition

// Clone returns an independent copy.
func (p BodyPositions) Clone() BodyPositions {
	out := make(BodyPositions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Ephemeris is the tropical position set computed for a julian day.
type Ephemeris struct {
	JulianDay float64       `json:"julian_day"`
	Tropical  BodyPositions `json:"tropical"`
}

// Snapshot is a sidereal position set at a wall-clock instant.
type Snapshot struct {
	Time      time.Time     `json:"time"`
	JulianDay float64       `json:"julian_day"`
	Positions BodyPositions `json:"positions"`
}

// PositionUpdate is published by the monitor on every refresh.
type PositionUpdate struct {
	Snapshot Snapshot `json:"snapshot"`
	Seq      uint64   `json:"seq"`
}
