package session

import (
	"context"
	"fmt"
	"time"
)

// flightPollTask polls the flight data source on the session's adaptive
// cadence. Failures are logged by the scheduler; the session simply keeps
// its previous snapshot, which ages into staleness on its own.
type flightPollTask struct {
	s *Session
}

func (t *flightPollTask) Name() string {
	return fmt.Sprintf("flight-poll/%s", t.s.id)
}

func (t *flightPollTask) Interval() time.Duration {
	return t.s.pollInterval()
}

func (t *flightPollTask) Run(ctx context.Context) error {
	rec, err := t.s.tracker.Poll(ctx, t.s.req.Flight)
	if err != nil {
		return err
	}
	t.s.offer(update{flight: &rec})
	return nil
}

// trafficPollTask polls the routing source independently of the flight
// poller, on the same adaptive cadence. It routes for arrival by the current
// gate deadline once one is known.
type trafficPollTask struct {
	s *Session
}

func (t *trafficPollTask) Name() string {
	return fmt.Sprintf("traffic-poll/%s", t.s.id)
}

func (t *trafficPollTask) Interval() time.Duration {
	return t.s.pollInterval()
}

func (t *trafficPollTask) Run(ctx context.Context) error {
	est, err := t.s.estimator.Estimate(ctx, t.s.req.Origin, t.s.req.Airport, t.s.currentDeadline())
	if err != nil {
		return err
	}
	t.s.offer(update{travel: &est})
	return nil
}
