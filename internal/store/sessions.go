package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
)

// SessionSnapshot is the persisted shape of one monitoring session: its
// request, lifecycle state and latest published window. A restarted daemon
// resumes from these rows instead of starting every session from scratch.
type SessionSnapshot struct {
	ID         string
	Flight     models.FlightIdentifier
	Origin     models.Coordinates
	Airport    models.Coordinates
	RouteClass string
	State      models.SessionState
	Reason     models.TerminalReason
	Window     *models.DepartureWindow
	UpdatedAt  time.Time
}

// ErrSessionNotFound is returned when loading a session id that was never
// persisted.
var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Save(snap SessionSnapshot) error
	Load(id string) (SessionSnapshot, error)
	LoadActive() ([]SessionSnapshot, error)
	Delete(id string) error
}

type sessionRepository struct {
	db *sql.DB
}

func (r *sessionRepository) Save(snap SessionSnapshot) error {
	var (
		earliest, recommended, latest, deadline, computedAt sql.NullTime
		urgency                                             string
		lowConfidence                                       bool
	)
	if w := snap.Window; w != nil {
		earliest = sql.NullTime{Time: w.EarliestSafeLeave, Valid: true}
		recommended = sql.NullTime{Time: w.RecommendedLeave, Valid: true}
		latest = sql.NullTime{Time: w.LatestLeave, Valid: true}
		deadline = sql.NullTime{Time: w.Deadline, Valid: true}
		computedAt = sql.NullTime{Time: w.ComputedAt, Valid: true}
		urgency = string(w.Urgency)
		lowConfidence = w.LowConfidence
	}

	query := `INSERT INTO sessions (
		id, carrier, number, flight_date,
		origin_lat, origin_lon, airport_lat, airport_lon,
		route_class, state, terminal_reason,
		earliest_leave, recommended_leave, latest_leave, deadline,
		urgency, low_confidence, window_computed_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		terminal_reason = excluded.terminal_reason,
		earliest_leave = excluded.earliest_leave,
		recommended_leave = excluded.recommended_leave,
		latest_leave = excluded.latest_leave,
		deadline = excluded.deadline,
		urgency = excluded.urgency,
		low_confidence = excluded.low_confidence,
		window_computed_at = excluded.window_computed_at,
		updated_at = excluded.updated_at`

	_, err := r.db.Exec(query,
		snap.ID, snap.Flight.Carrier, snap.Flight.Number, snap.Flight.Date,
		snap.Origin.Lat, snap.Origin.Lon, snap.Airport.Lat, snap.Airport.Lon,
		snap.RouteClass, string(snap.State), string(snap.Reason),
		earliest, recommended, latest, deadline,
		urgency, lowConfidence, computedAt, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", snap.ID, err)
	}
	return nil
}

func (r *sessionRepository) Load(id string) (SessionSnapshot, error) {
	query := `SELECT id, carrier, number, flight_date,
		origin_lat, origin_lon, airport_lat, airport_lon,
		route_class, state, terminal_reason,
		earliest_leave, recommended_leave, latest_leave, deadline,
		urgency, low_confidence, window_computed_at, updated_at
	FROM sessions WHERE id = ?`

	snap, err := scanSession(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SessionSnapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionSnapshot{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return snap, nil
}

// LoadActive returns every session that has not reached a terminal state.
func (r *sessionRepository) LoadActive() ([]SessionSnapshot, error) {
	query := `SELECT id, carrier, number, flight_date,
		origin_lat, origin_lon, airport_lat, airport_lon,
		route_class, state, terminal_reason,
		earliest_leave, recommended_leave, latest_leave, deadline,
		urgency, low_confidence, window_computed_at, updated_at
	FROM sessions WHERE state != ?`

	rows, err := r.db.Query(query, string(models.StateTerminal))
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}
	defer rows.Close()

	var snaps []SessionSnapshot
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return snaps, nil
}

func (r *sessionRepository) Delete(id string) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionSnapshot, error) {
	var (
		snap                                                snapFields
		earliest, recommended, latest, deadline, computedAt sql.NullTime
		urgency                                             string
		lowConfidence                                       bool
	)
	err := row.Scan(
		&snap.id, &snap.carrier, &snap.number, &snap.date,
		&snap.originLat, &snap.originLon, &snap.airportLat, &snap.airportLon,
		&snap.routeClass, &snap.state, &snap.reason,
		&earliest, &recommended, &latest, &deadline,
		&urgency, &lowConfidence, &computedAt, &snap.updatedAt,
	)
	if err != nil {
		return SessionSnapshot{}, err
	}

	out := SessionSnapshot{
		ID:         snap.id,
		Flight:     models.FlightIdentifier{Carrier: snap.carrier, Number: snap.number, Date: snap.date},
		Origin:     models.Coordinates{Lat: snap.originLat, Lon: snap.originLon},
		Airport:    models.Coordinates{Lat: snap.airportLat, Lon: snap.airportLon},
		RouteClass: snap.routeClass,
		State:      models.SessionState(snap.state),
		Reason:     models.TerminalReason(snap.reason),
		UpdatedAt:  snap.updatedAt,
	}

	if urgency != "" {
		out.Window = &models.DepartureWindow{
			EarliestSafeLeave: earliest.Time,
			RecommendedLeave:  recommended.Time,
			LatestLeave:       latest.Time,
			Deadline:          deadline.Time,
			Urgency:           models.Urgency(urgency),
			LowConfidence:     lowConfidence,
			ComputedAt:        computedAt.Time,
		}
	}

	return out, nil
}

type snapFields struct {
	id, carrier, number, date string
	originLat, originLon      float64
	airportLat, airportLon    float64
	routeClass, state, reason string
	updatedAt                 time.Time
}
