package providers

import (
	"context"
	"errors"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// ErrSourceUnavailable marks a transient upstream failure: the caller should
// keep its last-known-good snapshot and retry later.
var ErrSourceUnavailable = errors.New("source unavailable")

// FlightStatusPayload is the raw flight lookup result before normalization.
// Zero values mean the source did not report the field.
type FlightStatusPayload struct {
	Carrier            string
	Number             string
	OriginAirport      string
	DestinationAirport string
	ScheduledDeparture time.Time
	EstimatedDeparture time.Time
	Status             string
	GateCloseOffset    time.Duration
}

// FlightSource resolves the current status of one flight. Implementations
// are stateless and safe for concurrent use.
type FlightSource interface {
	Lookup(ctx context.Context, id models.FlightIdentifier) (FlightStatusPayload, error)
}

// RoutePayload is the raw routing result before normalization.
type RoutePayload struct {
	Duration    time.Duration
	Pessimistic time.Duration // zero when the source reports no traffic band
	DepartNow   bool          // true when the source could not honor desiredArrival
}

// TrafficSource estimates ground travel time between two points, timed for
// arrival by desiredArrival when the source supports time-dependent routing.
type TrafficSource interface {
	Route(ctx context.Context, origin, destination models.Coordinates, desiredArrival time.Time) (RoutePayload, error)
}
