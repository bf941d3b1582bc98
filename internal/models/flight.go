package models

import (
	"fmt"
	"time"
)

// FlightStatus is the resolved state of a tracked flight as reported by the
// upstream flight data source.
type FlightStatus string

const (
	StatusScheduled FlightStatus = "scheduled"
	StatusDelayed   FlightStatus = "delayed"
	StatusBoarding  FlightStatus = "boarding"
	StatusDeparted  FlightStatus = "departed"
	StatusCancelled FlightStatus = "cancelled"
)

// Terminal reports whether the status ends monitoring for the flight.
func (s FlightStatus) Terminal() bool {
	return s == StatusDeparted || s == StatusCancelled
}

// Valid reports whether the status is one of the known values.
func (s FlightStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusDelayed, StatusBoarding, StatusDeparted, StatusCancelled:
		return true
	}
	return false
}

// FlightIdentifier uniquely names one flight instance: carrier code, flight
// number and the local departure date (YYYY-MM-DD).
type FlightIdentifier struct {
	Carrier string
	Number  string
	Date    string
}

func (id FlightIdentifier) String() string {
	return fmt.Sprintf("%s%s/%s", id.Carrier, id.Number, id.Date)
}

// Freshness classifies how trustworthy a snapshot is based on its age.
type Freshness int

const (
	FreshnessUnknown Freshness = iota
	FreshnessCurrent
	FreshnessStale
)

func (f Freshness) String() string {
	switch f {
	case FreshnessCurrent:
		return "current"
	case FreshnessStale:
		return "stale"
	default:
		return "unknown"
	}
}

// FlightRecord is an immutable snapshot of one flight's timing and status,
// normalized from the upstream source.
type FlightRecord struct {
	ID                 FlightIdentifier
	OriginAirport      string // IATA code
	DestinationAirport string // IATA code
	ScheduledDeparture time.Time
	EstimatedDeparture time.Time
	Status             FlightStatus
	GateCloseOffset    time.Duration // boarding closes this long before estimated departure
	ObservedAt         time.Time
	LowConfidence      bool // set when normalization had to repair inconsistent data
}

// Age returns how long ago this record was observed. It is always derived
// from ObservedAt, never stored.
func (f FlightRecord) Age(now time.Time) time.Duration {
	return now.Sub(f.ObservedAt)
}

// Freshness classifies the record against the given staleness threshold.
func (f FlightRecord) Freshness(now time.Time, staleAfter time.Duration) Freshness {
	if f.ObservedAt.IsZero() {
		return FreshnessUnknown
	}
	if f.Age(now) > staleAfter {
		return FreshnessStale
	}
	return FreshnessCurrent
}

// GateDeadline is the instant the traveler must be at the gate: estimated
// departure minus the gate-closure offset.
func (f FlightRecord) GateDeadline() time.Time {
	return f.EstimatedDeparture.Add(-f.GateCloseOffset)
}

// Changed reports whether the fields that affect the departure window differ
// from prev. Snapshots that only refresh ObservedAt do not count as changes.
func (f FlightRecord) Changed(prev *FlightRecord) bool {
	if prev == nil {
		return true
	}
	return f.Status != prev.Status ||
		!f.EstimatedDeparture.Equal(prev.EstimatedDeparture) ||
		f.GateCloseOffset != prev.GateCloseOffset
}
