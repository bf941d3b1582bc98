package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// FlightCache caches normalized flight records with an explicit TTL, keyed by
// the flight identifier. It lets a restarted daemon serve its first window
// from the last known snapshot while the pollers warm up.
type FlightCache interface {
	Get(key string, now time.Time) (models.FlightRecord, bool, error)
	Put(key string, rec models.FlightRecord, ttl time.Duration) error
	Purge(now time.Time) error
}

// RouteCache caches travel estimates with an explicit TTL, keyed by
// (origin, destination, arrival time bucket).
type RouteCache interface {
	Get(key string, now time.Time) (models.TravelEstimate, bool, error)
	Put(key string, est models.TravelEstimate, ttl time.Duration) error
	Purge(now time.Time) error
}

type flightCache struct {
	db *sql.DB
}

func (c *flightCache) Get(key string, now time.Time) (models.FlightRecord, bool, error) {
	query := `SELECT origin_airport, destination_airport, scheduled_departure,
		estimated_departure, status, gate_close_secs, observed_at, low_confidence
	FROM flight_cache WHERE flight_key = ? AND expires_at > ?`

	var (
		rec           models.FlightRecord
		status        string
		gateCloseSecs int64
	)
	err := c.db.QueryRow(query, key, now).Scan(
		&rec.OriginAirport, &rec.DestinationAirport, &rec.ScheduledDeparture,
		&rec.EstimatedDeparture, &status, &gateCloseSecs, &rec.ObservedAt, &rec.LowConfidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FlightRecord{}, false, nil
	}
	if err != nil {
		return models.FlightRecord{}, false, fmt.Errorf("failed to read flight cache: %w", err)
	}

	rec.Status = models.FlightStatus(status)
	rec.GateCloseOffset = time.Duration(gateCloseSecs) * time.Second
	return rec, true, nil
}

func (c *flightCache) Put(key string, rec models.FlightRecord, ttl time.Duration) error {
	query := `INSERT INTO flight_cache (
		flight_key, origin_airport, destination_airport, scheduled_departure,
		estimated_departure, status, gate_close_secs, observed_at, low_confidence, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(flight_key) DO UPDATE SET
		origin_airport = excluded.origin_airport,
		destination_airport = excluded.destination_airport,
		scheduled_departure = excluded.scheduled_departure,
		estimated_departure = excluded.estimated_departure,
		status = excluded.status,
		gate_close_secs = excluded.gate_close_secs,
		observed_at = excluded.observed_at,
		low_confidence = excluded.low_confidence,
		expires_at = excluded.expires_at`

	_, err := c.db.Exec(query,
		key, rec.OriginAirport, rec.DestinationAirport, rec.ScheduledDeparture,
		rec.EstimatedDeparture, string(rec.Status), int64(rec.GateCloseOffset/time.Second),
		rec.ObservedAt, rec.LowConfidence, rec.ObservedAt.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to write flight cache: %w", err)
	}
	return nil
}

func (c *flightCache) Purge(now time.Time) error {
	if _, err := c.db.Exec(`DELETE FROM flight_cache WHERE expires_at <= ?`, now); err != nil {
		return fmt.Errorf("failed to purge flight cache: %w", err)
	}
	return nil
}

type routeCache struct {
	db *sql.DB
}

func (c *routeCache) Get(key string, now time.Time) (models.TravelEstimate, bool, error) {
	query := `SELECT origin_lat, origin_lon, airport_lat, airport_lon,
		point_secs, pessimistic_secs, depart_now, sampled_at
	FROM route_cache WHERE route_key = ? AND expires_at > ?`

	var (
		est                        models.TravelEstimate
		pointSecs, pessimisticSecs int64
	)
	err := c.db.QueryRow(query, key, now).Scan(
		&est.Origin.Lat, &est.Origin.Lon, &est.Destination.Lat, &est.Destination.Lon,
		&pointSecs, &pessimisticSecs, &est.DepartNow, &est.SampledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TravelEstimate{}, false, nil
	}
	if err != nil {
		return models.TravelEstimate{}, false, fmt.Errorf("failed to read route cache: %w", err)
	}

	est.Point = time.Duration(pointSecs) * time.Second
	est.Pessimistic = time.Duration(pessimisticSecs) * time.Second
	return est, true, nil
}

func (c *routeCache) Put(key string, est models.TravelEstimate, ttl time.Duration) error {
	query := `INSERT INTO route_cache (
		route_key, origin_lat, origin_lon, airport_lat, airport_lon,
		point_secs, pessimistic_secs, depart_now, sampled_at, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(route_key) DO UPDATE SET
		point_secs = excluded.point_secs,
		pessimistic_secs = excluded.pessimistic_secs,
		depart_now = excluded.depart_now,
		sampled_at = excluded.sampled_at,
		expires_at = excluded.expires_at`

	_, err := c.db.Exec(query,
		key, est.Origin.Lat, est.Origin.Lon, est.Destination.Lat, est.Destination.Lon,
		int64(est.Point/time.Second), int64(est.Pessimistic/time.Second),
		est.DepartNow, est.SampledAt, est.SampledAt.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to write route cache: %w", err)
	}
	return nil
}

func (c *routeCache) Purge(now time.Time) error {
	if _, err := c.db.Exec(`DELETE FROM route_cache WHERE expires_at <= ?`, now); err != nil {
		return fmt.Errorf("failed to purge route cache: %w", err)
	}
	return nil
}
