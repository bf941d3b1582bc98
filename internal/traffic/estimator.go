package traffic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
	"github.com/abhinavathankar/Departly.ai/internal/providers"
	"github.com/abhinavathankar/Departly.ai/internal/store"
)

// Estimator polls the routing source for the origin-to-airport travel time
// and normalizes results into TravelEstimate snapshots with a pessimistic
// bound. Like the flight tracker it is stateless; the owning session keeps
// the latest snapshot.
type Estimator struct {
	source      providers.TrafficSource
	cache       store.RouteCache
	widenFactor float64 // pessimistic multiplier applied to depart-now fallbacks
	cacheTTL    time.Duration
	timeBucket  time.Duration // cache key granularity for the arrival instant
}

func New(source providers.TrafficSource, cache store.RouteCache, widenFactor float64, cacheTTL, timeBucket time.Duration) *Estimator {
	if widenFactor < 1 {
		widenFactor = 1
	}
	return &Estimator{
		source:      source,
		cache:       cache,
		widenFactor: widenFactor,
		cacheTTL:    cacheTTL,
		timeBucket:  timeBucket,
	}
}

// Estimate fetches the travel time from origin to the departure airport,
// timed for arrival by desiredArrival. On a transient source failure it
// serves the cached estimate for the same route and arrival bucket if one is
// still within its TTL.
func (e *Estimator) Estimate(ctx context.Context, origin, airport models.Coordinates, desiredArrival time.Time) (models.TravelEstimate, error) {
	key := e.cacheKey(origin, airport, desiredArrival)

	payload, err := e.source.Route(ctx, origin, airport, desiredArrival)
	if err != nil {
		if errors.Is(err, providers.ErrSourceUnavailable) && e.cache != nil {
			if est, ok, cacheErr := e.cache.Get(key, time.Now()); cacheErr == nil && ok {
				slog.Warn("Traffic source unavailable, serving cached estimate",
					"age", time.Since(est.SampledAt),
				)
				return est, nil
			}
		}
		return models.TravelEstimate{}, fmt.Errorf("estimate travel time: %w", err)
	}

	est := e.normalize(origin, airport, payload, time.Now())

	if e.cache != nil {
		if err := e.cache.Put(key, est, e.cacheTTL); err != nil {
			slog.Warn("Failed to cache travel estimate", "error", err)
		}
	}

	return est, nil
}

// normalize enforces the pessimistic-bound invariant. A depart-now fallback
// lacks the time-of-day signal, so its bound is widened by the configured
// factor to compensate.
func (e *Estimator) normalize(origin, airport models.Coordinates, p providers.RoutePayload, now time.Time) models.TravelEstimate {
	est := models.TravelEstimate{
		Origin:      origin,
		Destination: airport,
		Point:       p.Duration,
		Pessimistic: p.Pessimistic,
		SampledAt:   now,
		DepartNow:   p.DepartNow,
	}

	if p.DepartNow {
		widened := time.Duration(float64(est.Point) * e.widenFactor)
		if widened > est.Pessimistic {
			est.Pessimistic = widened
		}
	}

	if est.Pessimistic < est.Point {
		est.Pessimistic = est.Point
	}

	return est
}

// cacheKey buckets the desired arrival so estimates for nearby deadlines
// share a cache entry.
func (e *Estimator) cacheKey(origin, airport models.Coordinates, desiredArrival time.Time) string {
	bucket := int64(0)
	if !desiredArrival.IsZero() && e.timeBucket > 0 {
		bucket = desiredArrival.Truncate(e.timeBucket).Unix()
	}
	return fmt.Sprintf("%.4f,%.4f|%.4f,%.4f|%d", origin.Lat, origin.Lon, airport.Lat, airport.Lon, bucket)
}
