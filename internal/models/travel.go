package models

import "time"

// Coordinates is an immutable geographic point (latitude, longitude).
type Coordinates struct {
	Lat float64
	Lon float64
}

// IsZero reports whether the coordinates are unset.
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lon == 0
}

// TravelEstimate is an immutable snapshot of the ground travel time from a
// fixed origin to the departure airport.
type TravelEstimate struct {
	Origin      Coordinates
	Destination Coordinates
	Point       time.Duration // best-estimate travel duration
	Pessimistic time.Duration // inflated to cover traffic variance; always >= Point
	SampledAt   time.Time
	DepartNow   bool // true when the source could not route for a desired arrival time
}

// Age returns how long ago this estimate was sampled.
func (t TravelEstimate) Age(now time.Time) time.Duration {
	return now.Sub(t.SampledAt)
}

// Freshness classifies the estimate against the given staleness threshold.
func (t TravelEstimate) Freshness(now time.Time, staleAfter time.Duration) Freshness {
	if t.SampledAt.IsZero() {
		return FreshnessUnknown
	}
	if t.Age(now) > staleAfter {
		return FreshnessStale
	}
	return FreshnessCurrent
}

// Changed reports whether the durations differ from prev.
func (t TravelEstimate) Changed(prev *TravelEstimate) bool {
	if prev == nil {
		return true
	}
	return t.Point != prev.Point || t.Pessimistic != prev.Pessimistic
}
