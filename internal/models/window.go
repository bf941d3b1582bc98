package models

import "time"

// Urgency is the categorical risk of missing the flight, derived from
// comparing the current time to the window's three instants.
type Urgency string

const (
	UrgencyComfortable Urgency = "comfortable"
	UrgencyTight       Urgency = "tight"
	UrgencyUrgent      Urgency = "urgent"
	UrgencyMissed      Urgency = "missed"
	// UrgencyNone is used for terminal windows (departed/cancelled flights)
	// where a leave-by recommendation no longer applies.
	UrgencyNone Urgency = "n/a"
)

// DepartureWindow is the single artifact the engine publishes: the three
// leave-by instants plus derived urgency. It is always recomputed whole from
// the latest inputs, never patched field by field.
type DepartureWindow struct {
	EarliestSafeLeave time.Time
	RecommendedLeave  time.Time
	LatestLeave       time.Time
	Deadline          time.Time // must-be-at-gate instant the window was derived from
	Urgency           Urgency
	LowConfidence     bool // inputs were stale or degraded when this was computed
	Terminal          bool // flight departed or cancelled; no further recomputation
	ComputedAt        time.Time

	// Versions of the inputs the window was derived from.
	FlightObservedAt time.Time
	TravelSampledAt  time.Time
}
