package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders alerts; lower rank is more urgent.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns 0 for critical up to 3 for low, and 4 for unknown values.
func (p Priority) Rank() int {
	for i, x := range priorityOrder {
		if x == p {
			return i
		}
	}
	return len(priorityOrder)
}

// IsValid returns true for a known priority.
func (p Priority) IsValid() bool { return p.Rank() < len(priorityOrder) }

// Escalate raises the priority one level, saturating at critical.
func (p Priority) Escalate() Priority {
	r := p.Rank()
	if r == 0 || r >= len(priorityOrder) {
		return p
	}
	return priorityOrder[r-1]
}

// Demote lowers the priority one level, saturating at low.
func (p Priority) Demote() Priority {
	r := p.Rank()
	if r >= len(priorityOrder)-1 {
		return p
	}
	return priorityOrder[r+1]
}

// Timing labels how far ahead an alert's event is.
type Timing string

const (
	TimingImmediate Timing = "immediate"
	TimingSoon      Timing = "soon"
	TimingUpcoming  Timing = "upcoming"
	TimingAdvance   Timing = "advance"
)

// Alert is a prioritized, deliverable notification about an event.
type Alert struct {
	ID        uuid.UUID    `json:"id"`
	ChartID   string       `json:"chart_id"`
	Type      EventType    `json:"type"`
	Priority  Priority     `json:"priority"`
	Timing    Timing       `json:"timing"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	CreatedAt time.Time    `json:"created_at"`
	Event     TransitEvent `json:"event"`
}

// AlertRule configures how one event type becomes an alert.
type AlertRule struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Priority     Priority `yaml:"priority" json:"priority"`
	MinIntensity float64  `yaml:"min_intensity" json:"min_intensity"`
}
