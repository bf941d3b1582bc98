package window

import (
	"log/slog"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// Policy holds the buffer constants and weighting the calculator works with.
// All values are configuration, not code: they vary by airport and airline
// class and are loaded from config.
type Policy struct {
	// CheckinBuffers maps a route class (e.g. "domestic", "international")
	// to the security/check-in dwell time budgeted before the gate deadline.
	CheckinBuffers map[string]time.Duration
	// FallbackCheckinBuffer is the conservative default used when a route
	// class has no configured buffer.
	FallbackCheckinBuffer time.Duration
	// DefaultGateClose is the gate-closure offset assumed when the flight
	// source reports none.
	DefaultGateClose time.Duration
	// Alpha weights the recommended instant inside the safe band, 0 being
	// the earliest safe instant and 1 the latest. Biased toward caution.
	Alpha float64
	// ComfortMargin is how far before the earliest safe instant "now" must
	// be for the urgency to still count as comfortable.
	ComfortMargin time.Duration
	// StaleAfter is the input age beyond which a window is flagged low
	// confidence.
	StaleAfter time.Duration
}

// CheckinBuffer returns the buffer for the given route class and whether the
// class was actually configured.
func (p Policy) CheckinBuffer(class string) (time.Duration, bool) {
	d, ok := p.CheckinBuffers[class]
	return d, ok
}

// Calculator derives departure windows. It is a pure function of its inputs
// plus the policy; it holds no mutable state and is safe for concurrent use.
type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

// ComfortMargin reports the policy's comfort margin so callers can anticipate
// the comfortable-to-tight boundary.
func (c *Calculator) ComfortMargin() time.Duration {
	return c.policy.ComfortMargin
}

// Compute derives a DepartureWindow from the latest flight and travel
// snapshots. It never refuses to answer: degraded inputs produce a window
// flagged low confidence, and a cancelled or departed flight produces a
// terminal window.
func (c *Calculator) Compute(flight models.FlightRecord, travel models.TravelEstimate, routeClass string, now time.Time) models.DepartureWindow {
	if flight.Status == models.StatusCancelled || flight.Status == models.StatusDeparted {
		return models.DepartureWindow{
			Deadline:         flight.GateDeadline(),
			Urgency:          models.UrgencyNone,
			Terminal:         true,
			ComputedAt:       now,
			FlightObservedAt: flight.ObservedAt,
			TravelSampledAt:  travel.SampledAt,
		}
	}

	buffer, ok := c.policy.CheckinBuffer(routeClass)
	if !ok {
		// Unknown route class falls back to the conservative default
		// rather than failing the session.
		buffer = c.policy.FallbackCheckinBuffer
		slog.Warn("No check-in buffer configured for route class, using fallback",
			"route_class", routeClass,
			"fallback", buffer,
		)
	}

	deadline := flight.GateDeadline()
	latest := deadline.Add(-travel.Point).Add(-buffer)
	earliest := deadline.Add(-travel.Pessimistic).Add(-buffer)
	if earliest.After(latest) {
		// Pessimistic bound below the point estimate should have been
		// repaired upstream; keep the window ordered regardless.
		earliest = latest
	}

	band := latest.Sub(earliest)
	recommended := earliest.Add(time.Duration(c.policy.Alpha * float64(band))).Truncate(time.Minute)
	if recommended.Before(earliest) {
		recommended = earliest
	}
	if recommended.After(latest) {
		recommended = latest
	}

	return models.DepartureWindow{
		EarliestSafeLeave: earliest,
		RecommendedLeave:  recommended,
		LatestLeave:       latest,
		Deadline:          deadline,
		Urgency:           c.urgency(now, earliest, latest, deadline),
		LowConfidence:     c.lowConfidence(flight, travel, now),
		ComputedAt:        now,
		FlightObservedAt:  flight.ObservedAt,
		TravelSampledAt:   travel.SampledAt,
	}
}

// urgency compares now against the window instants. Bands are closed at the
// lower edge and open at the upper edge, so now == latest is still tight and
// now == deadline is already missed.
func (c *Calculator) urgency(now, earliest, latest, deadline time.Time) models.Urgency {
	switch {
	case now.Before(earliest.Add(-c.policy.ComfortMargin)):
		return models.UrgencyComfortable
	case !now.After(latest):
		return models.UrgencyTight
	case now.Before(deadline):
		return models.UrgencyUrgent
	default:
		return models.UrgencyMissed
	}
}

func (c *Calculator) lowConfidence(flight models.FlightRecord, travel models.TravelEstimate, now time.Time) bool {
	if flight.LowConfidence {
		return true
	}
	return flight.Freshness(now, c.policy.StaleAfter) != models.FreshnessCurrent ||
		travel.Freshness(now, c.policy.StaleAfter) != models.FreshnessCurrent
}
