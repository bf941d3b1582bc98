package daemon

import (
	"fmt"
	"log/slog"

	"github.com/abhinavathankar/Departly.ai/internal/config"
	"github.com/abhinavathankar/Departly.ai/internal/models"
	"github.com/abhinavathankar/Departly.ai/internal/providers"
	"github.com/abhinavathankar/Departly.ai/internal/session"
	"github.com/abhinavathankar/Departly.ai/internal/store"
	"github.com/abhinavathankar/Departly.ai/internal/tracker"
	"github.com/abhinavathankar/Departly.ai/internal/traffic"
	"github.com/abhinavathankar/Departly.ai/internal/window"
)

// Daemon wires the store, the provider adapters and the session manager
// together and owns their shutdown order.
type Daemon struct {
	cfg     *config.Config
	store   *store.Store
	manager *session.Manager
}

// New creates a new daemon instance
func New(cfg *config.Config) (*Daemon, error) {
	if cfg.Providers.FlightBaseURL == "" {
		return nil, fmt.Errorf("providers.flight_base_url is required")
	}
	if cfg.Providers.TrafficBaseURL == "" {
		return nil, fmt.Errorf("providers.traffic_base_url is required")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	flightSource := providers.NewHTTPFlightSource(cfg.Providers.FlightBaseURL, cfg.Providers.FlightAPIKey)
	trafficSource := providers.NewHTTPTrafficSource(cfg.Providers.TrafficBaseURL, cfg.Providers.TrafficAPIKey)

	tr := tracker.New(flightSource, st.FlightCache(), cfg.Policy.DefaultGateClose, cfg.Cache.FlightTTL)
	est := traffic.New(trafficSource, st.RouteCache(), cfg.Policy.WidenFactor, cfg.Cache.RouteTTL, cfg.Cache.RouteTimeBucket)

	calc := window.NewCalculator(window.Policy{
		CheckinBuffers:        cfg.Policy.CheckinBuffers,
		FallbackCheckinBuffer: cfg.Policy.FallbackCheckinBuffer,
		DefaultGateClose:      cfg.Policy.DefaultGateClose,
		Alpha:                 cfg.Policy.Alpha,
		ComfortMargin:         cfg.Policy.ComfortMargin,
		StaleAfter:            cfg.Poll.StaleAfter,
	})

	sessionCfg := session.Config{
		NearInterval: cfg.Poll.NearInterval,
		FarInterval:  cfg.Poll.FarInterval,
		NearWindow:   cfg.Poll.NearWindow,
		Debounce:     cfg.Poll.Debounce,
		ExpiryGrace:  cfg.Poll.ExpiryGrace,
	}

	manager := session.NewManager(tr, est, calc, st.Sessions(), sessionCfg, logWindow, logTerminal)

	return &Daemon{
		cfg:     cfg,
		store:   st,
		manager: manager,
	}, nil
}

// Manager exposes the session manager for callers that start or stop
// sessions at runtime.
func (d *Daemon) Manager() *session.Manager {
	return d.manager
}

// Start resumes persisted sessions and begins monitoring every configured
// watch entry.
func (d *Daemon) Start() error {
	slog.Info("Starting daemon")

	if err := d.manager.Resume(); err != nil {
		return fmt.Errorf("failed to resume sessions: %w", err)
	}

	for i, w := range d.cfg.Watch {
		req := session.Request{
			Flight:     models.FlightIdentifier{Carrier: w.Carrier, Number: w.Number, Date: w.Date},
			Origin:     models.Coordinates{Lat: w.OriginLat, Lon: w.OriginLon},
			Airport:    models.Coordinates{Lat: w.AirportLat, Lon: w.AirportLon},
			RouteClass: w.RouteClass,
		}

		id := w.ID
		if id == "" {
			id = fmt.Sprintf("watch-%d-%s%s-%s", i, w.Carrier, w.Number, w.Date)
		}

		if _, err := d.manager.Start(id, req); err != nil {
			slog.Error("Failed to start watch session", "session", id, "error", err)
		}
	}

	slog.Info("Daemon started successfully")
	return nil
}

// Stop gracefully stops the daemon
func (d *Daemon) Stop() error {
	slog.Info("Stopping daemon")

	d.manager.StopAll()

	if err := d.store.Close(); err != nil {
		slog.Error("Error closing store", "error", err)
	}

	slog.Info("Daemon stopped")
	return nil
}

func logWindow(snap session.Snapshot) {
	if snap.Window == nil {
		return
	}
	slog.Info("Departure window published",
		"session", snap.ID,
		"earliest_safe_leave", snap.Window.EarliestSafeLeave,
		"recommended_leave", snap.Window.RecommendedLeave,
		"latest_leave", snap.Window.LatestLeave,
		"urgency", snap.Window.Urgency,
		"low_confidence", snap.Window.LowConfidence,
	)
}

func logTerminal(snap session.Snapshot) {
	slog.Info("Session reached terminal state",
		"session", snap.ID,
		"reason", snap.Reason,
	)
}
