package tracker

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

// Tracker polls the flight data source and normalizes results into canonical
// FlightRecord snapshots. It holds no per-flight state: the owning session
// keeps the latest snapshot and decides what counts as a change.
type Tracker struct {
	source           providers.FlightSource
	cache            store.FlightCache
	defaultGateClose time.Duration
	cacheTTL         time.Duration
}

func New(source providers.FlightSource, cache store.FlightCache, defaultGateClose, cacheTTL time.Duration) *Tracker {
	return &Tracker{
		source:           source,
		cache:            cache,
		defaultGateClose: defaultGateClose,
		cacheTTL:         cacheTTL,
	}
}

// Poll fetches and normalizes the current state of one flight. On a
// transient source failure it falls back to the cached snapshot, which keeps
// its original ObservedAt so callers see it age naturally; only when neither
// source nor cache can answer does Poll return an error.
func (t *Tracker) Poll(ctx context.Context, id models.FlightIdentifier) (models.FlightRecord, error) {
	payload, err := t.source.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, providers.ErrSourceUnavailable) && t.cache != nil {
			if rec, ok, cacheErr := t.cache.Get(id.String(), time.Now()); cacheErr == nil && ok {
				rec.ID = id
				slog.Warn("Flight source unavailable, serving cached snapshot",
					"flight", id.String(),
					"age", time.Since(rec.ObservedAt),
				)
				return rec, nil
			}
		}
		return models.FlightRecord{}, fmt.Errorf("poll flight %s: %w", id, err)
	}

	rec := t.normalize(id, payload, time.Now())

	if t.cache != nil {
		if err := t.cache.Put(id.String(), rec, t.cacheTTL); err != nil {
			slog.Warn("Failed to cache flight record", "flight", id.String(), "error", err)
		}
	}

	return rec, nil
}

// normalize converts a raw payload into a canonical record, repairing
// inconsistent data instead of failing. Repairs are recorded via the
// LowConfidence flag so downstream windows carry the degradation.
func (t *Tracker) normalize(id models.FlightIdentifier, p providers.FlightStatusPayload, now time.Time) models.FlightRecord {
	rec := models.FlightRecord{
		ID:                 id,
		OriginAirport:      p.OriginAirport,
		DestinationAirport: p.DestinationAirport,
		ScheduledDeparture: p.ScheduledDeparture,
		EstimatedDeparture: p.EstimatedDeparture,
		Status:             models.FlightStatus(p.Status),
		GateCloseOffset:    p.GateCloseOffset,
		ObservedAt:         now,
	}

	if !rec.Status.Valid() {
		slog.Warn("Unknown flight status from source, treating as scheduled",
			"flight", id.String(),
			"status", p.Status,
		)
		rec.Status = models.StatusScheduled
		rec.LowConfidence = true
	}

	if rec.EstimatedDeparture.IsZero() {
		rec.EstimatedDeparture = rec.ScheduledDeparture
	}

	if rec.GateCloseOffset <= 0 {
		rec.GateCloseOffset = t.defaultGateClose
	}

	// An estimate before the scheduled departure without a matching status
	// is inconsistent source data. The more recent observation wins, but the
	// record is flagged so the window carries low confidence.
	if rec.EstimatedDeparture.Before(rec.ScheduledDeparture) && !rec.Status.Terminal() {
		slog.Warn("Estimated departure before scheduled, keeping newer observation",
			"flight", id.String(),
			"scheduled", rec.ScheduledDeparture,
			"estimated", rec.EstimatedDeparture,
		)
		rec.LowConfidence = true
	}

	return rec
}
