package models

import (
	"fmt"
	"strings"
	"time"
)

// TransitPeriod is a maximal interval during which a body stays in one sign.
type TransitPeriod struct {
	Body      Body          `json:"body"`
	Sign      int           `json:"sign"`
	SignName  string        `json:"sign_name"`
	Longitude float64       `json:"longitude"` // first sample in the run
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
	Partial   bool          `json:"partial"` // touches the sampled window boundary
}

// EventType tags a TransitEvent.
type EventType string

const (
	EventSignEntry        EventType = "sign_entry"
	EventSignExit         EventType = "sign_exit"
	EventAspectFormation  EventType = "aspect_formation"
	EventAspectSeparation EventType = "aspect_separation"
	EventCriticalPeriod   EventType = "critical_period"
)

// AllEventTypes lists every event type.
var AllEventTypes = []EventType{
	EventSignEntry, EventSignExit, EventAspectFormation, EventAspectSeparation, EventCriticalPeriod,
}

// IsValidEventType returns true if t is a known event type.
func IsValidEventType(t EventType) bool {
	for _, x := range AllEventTypes {
		if x == t {
			return true
		}
	}
	return false
}

// TransitEvent is a discrete, timestamped occurrence derived from a series.
// Fields not relevant to Type are zero.
type TransitEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Body      Body      `json:"body"`
	NatalBody Body      `json:"natal_body,omitempty"`
	Angle     float64   `json:"angle,omitempty"`
	Sign      int       `json:"sign"`
	Intensity float64   `json:"intensity"`
	Key       string    `json:"key"`
}

// EventKey builds a dedup key from the event type and identifying parts.
// Include a timestamp among parts when distinct occurrences must alert separately.
func EventKey(t EventType, parts ...any) string {
	var b strings.Builder
	b.WriteString(string(t))
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// ImpactAnalysis describes what a transit means for the chart.
type ImpactAnalysis struct {
	House      int      `json:"house"`
	HouseClass string   `json:"house_class"`
	Dignity    string   `json:"dignity"`
	Themes     []string `json:"themes"`
	Level      string   `json:"level"`
}

// ActiveTransit is the current placement of one body relative to the chart.
type ActiveTransit struct {
	Body      Body            `json:"body"`
	Longitude float64         `json:"longitude"`
	Sign      int             `json:"sign"`
	SignName  string          `json:"sign_name"`
	House     int             `json:"house"`
	Aspects   []AspectMatch   `json:"aspects"`
	Intensity float64         `json:"intensity"`
	Analysis  *ImpactAnalysis `json:"analysis,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CurrentAnalysis is the result of a current transit analysis.
type CurrentAnalysis struct {
	ChartID          string            `json:"chart_id"`
	Timestamp        time.Time         `json:"timestamp"`
	Positions        BodyPositions     `json:"positions"`
	Aspects          []AspectMatch     `json:"aspects"`
	ActiveTransits   []ActiveTransit   `json:"active_transits"`
	CriticalPeriods  []ActiveTransit   `json:"critical_periods"`
	MediumPeriods    []ActiveTransit   `json:"medium_periods"`
	OverallInfluence float64           `json:"overall_influence"`
	Errors           map[string]string `json:"errors,omitempty"`
}

// CalendarEntry is one item of the merged prediction calendar.
type CalendarEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"` // "period" or "event"
	Period    *TransitPeriod `json:"period,omitempty"`
	Event     *TransitEvent  `json:"event,omitempty"`
}

// PredictionSummary counts the content of a prediction window.
type PredictionSummary struct {
	Periods     int               `json:"periods"`
	Events      int               `json:"events"`
	Alerts      int               `json:"alerts"`
	ByEventType map[EventType]int `json:"by_event_type"`
	ByPriority  map[Priority]int  `json:"by_priority"`
}

// Predictions is the result of a forward-looking prediction request.
type Predictions struct {
	ChartID   string            `json:"chart_id"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	DaysAhead int               `json:"days_ahead"`
	Calendar  []CalendarEntry   `json:"calendar"`
	Alerts    []Alert           `json:"alerts"`
	Summary   PredictionSummary `json:"summary"`
}
