package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
	"github.com/abhinavathankar/Departly.ai/internal/scheduler"
	"github.com/abhinavathankar/Departly.ai/internal/store"
	"github.com/abhinavathankar/Departly.ai/internal/tracker"
	"github.com/abhinavathankar/Departly.ai/internal/traffic"
	"github.com/abhinavathankar/Departly.ai/internal/window"
)

// Config holds the polling and recomputation cadence for a session.
type Config struct {
	// NearInterval is the poll cadence once the estimated departure is
	// within NearWindow; FarInterval applies before that.
	NearInterval time.Duration
	FarInterval  time.Duration
	NearWindow   time.Duration
	// Debounce coalesces updates arriving close together into a single
	// recomputation.
	Debounce time.Duration
	// ExpiryGrace is how long past the gate deadline the session waits for
	// a departure signal before forcing TERMINAL(expired). During the grace
	// period the window reports urgency "missed".
	ExpiryGrace time.Duration
}

// Request describes what one session monitors: a flight and the traveler's
// fixed origin.
type Request struct {
	Flight     models.FlightIdentifier
	Origin     models.Coordinates
	Airport    models.Coordinates // departure airport coordinates
	RouteClass string             // e.g. "domestic", "international"
}

func (r Request) validate() error {
	if r.Flight.Carrier == "" || r.Flight.Number == "" || r.Flight.Date == "" {
		return errors.New("flight identifier is incomplete")
	}
	if r.Origin.IsZero() {
		return errors.New("origin coordinates are required")
	}
	if r.Airport.IsZero() {
		return errors.New("airport coordinates are required")
	}
	return nil
}

// update carries one poller result into the session's single-writer loop.
// Exactly one field is set.
type update struct {
	flight *models.FlightRecord
	travel *models.TravelEstimate
}

// Snapshot is a point-in-time copy of a session's externally visible state.
type Snapshot struct {
	ID     string
	State  models.SessionState
	Reason models.TerminalReason
	Window *models.DepartureWindow
}

// Session owns the lifecycle of one monitoring task: it runs the two pollers,
// serializes their updates into the calculator and tracks state transitions.
// All mutable state is owned by the run loop; concurrent readers only see
// copies taken under the lock.
type Session struct {
	id        string
	req       Request
	cfg       Config
	tracker   *tracker.Tracker
	estimator *traffic.Estimator
	calc      *window.Calculator
	repo      store.SessionRepository // nil disables persistence

	ctx     context.Context
	cancel  context.CancelFunc
	sched   *scheduler.Scheduler
	updates chan update
	done    chan struct{}

	onWindow   func(Snapshot)
	onTerminal func(Snapshot)

	mu     sync.RWMutex
	flight *models.FlightRecord
	travel *models.TravelEstimate
	window *models.DepartureWindow
	state  models.SessionState
	reason models.TerminalReason
}

// New builds a session. Callbacks may be nil; they are invoked from the
// session's own goroutine and must not block.
func New(id string, req Request, tr *tracker.Tracker, est *traffic.Estimator, calc *window.Calculator, repo store.SessionRepository, cfg Config, onWindow, onTerminal func(Snapshot)) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		req:        req,
		cfg:        cfg,
		tracker:    tr,
		estimator:  est,
		calc:       calc,
		repo:       repo,
		ctx:        ctx,
		cancel:     cancel,
		updates:    make(chan update, 8),
		done:       make(chan struct{}),
		onWindow:   onWindow,
		onTerminal: onTerminal,
		state:      models.StateInitializing,
	}

	s.sched = scheduler.New(ctx)
	s.sched.AddTask(&flightPollTask{s: s})
	s.sched.AddTask(&trafficPollTask{s: s})

	return s, nil
}

// Start launches the pollers and the update loop.
func (s *Session) Start() {
	slog.Info("Starting monitoring session",
		"session", s.id,
		"flight", s.req.Flight.String(),
		"route_class", s.req.RouteClass,
	)
	s.persist()
	go s.run()
	s.sched.Start()
}

// Stop cancels the session and waits for its resources to be released. A
// session stopped before reaching a natural terminal state is recorded as
// stopped by its owner.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has fully terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:     s.id,
		State:  s.state,
		Reason: s.reason,
	}
	if s.window != nil {
		w := *s.window
		snap.Window = &w
	}
	return snap
}

// run is the session's single serialization point: it alone mutates the two
// input slots, the window and the lifecycle state.
func (s *Session) run() {
	defer close(s.done)
	defer s.sched.Stop()

	debounce := newStoppedTimer()
	watchdog := newStoppedTimer()
	urgencyTick := newStoppedTimer()
	defer debounce.Stop()
	defer watchdog.Stop()
	defer urgencyTick.Stop()

	pending := false

	for {
		select {
		case <-s.ctx.Done():
			s.finish(models.TerminalStopped)
			return

		case u := <-s.updates:
			flightChanged, travelChanged := s.apply(u)

			if flightChanged {
				// The deadline may have moved; rearm the expiry watchdog.
				s.rearmWatchdog(watchdog)

				if terminal, reason := s.terminalStatus(); terminal {
					// Departed or cancelled needs no debounce: recompute
					// once so the terminal window is published, then stop.
					s.recompute()
					s.finish(reason)
					return
				}
			}

			if (flightChanged || travelChanged) && s.ready() && !pending {
				pending = true
				resetTimer(debounce, s.cfg.Debounce)
			}

		case <-debounce.C:
			pending = false
			s.armUrgencyTick(urgencyTick, s.recompute())

		case <-urgencyTick.C:
			// Urgency depends on wall-clock time, not only on the inputs:
			// even with nothing new from upstream the session must escalate
			// as "now" crosses a band boundary.
			s.armUrgencyTick(urgencyTick, s.recompute())

		case <-watchdog.C:
			// Deadline plus grace passed with no departure signal from
			// upstream. Force the safety terminal state.
			slog.Warn("Session expired: no departure signal past deadline",
				"session", s.id,
				"flight", s.req.Flight.String(),
			)
			s.finish(models.TerminalExpired)
			return
		}
	}
}

// offer hands a poller result to the run loop without blocking shutdown.
func (s *Session) offer(u update) {
	select {
	case s.updates <- u:
	case <-s.ctx.Done():
	}
}

// apply overwrites the slot the update targets. Each slot holds exactly the
// latest snapshot; history is never kept. Returns which slots changed in a
// way that affects the window.
func (s *Session) apply(u update) (flightChanged, travelChanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.flight != nil {
		flightChanged = u.flight.Changed(s.flight)
		s.flight = u.flight
	}
	if u.travel != nil {
		travelChanged = u.travel.Changed(s.travel)
		s.travel = u.travel
	}
	return flightChanged, travelChanged
}

// ready reports whether both first poller results have arrived. No window is
// published with only one input present.
func (s *Session) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flight != nil && s.travel != nil
}

func (s *Session) terminalStatus() (bool, models.TerminalReason) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flight == nil {
		return false, ""
	}
	switch s.flight.Status {
	case models.StatusDeparted:
		return true, models.TerminalDeparted
	case models.StatusCancelled:
		return true, models.TerminalCancelled
	}
	return false, ""
}

// recompute derives a fresh window from the latest pair of snapshots and
// re-evaluates the lifecycle state from scratch. Urgency is never ratcheted:
// a delay that re-opens the window moves the session back to ACTIVE.
func (s *Session) recompute() *models.DepartureWindow {
	s.mu.Lock()
	if s.flight == nil || s.travel == nil || s.state.IsTerminal() {
		s.mu.Unlock()
		return nil
	}

	w := s.calc.Compute(*s.flight, *s.travel, s.req.RouteClass, time.Now())
	s.window = &w

	if !w.Terminal {
		switch w.Urgency {
		case models.UrgencyUrgent, models.UrgencyMissed:
			s.state = models.StateUrgent
		default:
			s.state = models.StateActive
		}
	}

	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("Departure window recomputed",
		"session", s.id,
		"flight", s.req.Flight.String(),
		"recommended_leave", w.RecommendedLeave,
		"latest_leave", w.LatestLeave,
		"urgency", w.Urgency,
		"low_confidence", w.LowConfidence,
	)

	s.persist()
	if s.onWindow != nil && !w.Terminal {
		s.onWindow(snap)
	}
	return &w
}

// armUrgencyTick schedules the next wall-clock recomputation at the first
// band boundary ahead of now: the comfort margin, the latest leave instant,
// or the deadline itself.
func (s *Session) armUrgencyTick(tick *time.Timer, w *models.DepartureWindow) {
	if w == nil || w.Terminal {
		return
	}

	now := time.Now()
	boundaries := []time.Time{
		w.EarliestSafeLeave.Add(-s.calc.ComfortMargin()),
		w.LatestLeave,
		w.Deadline,
	}
	for _, b := range boundaries {
		if b.After(now) {
			// A hair past the boundary so the recomputation lands on the
			// far side of it.
			resetTimer(tick, b.Sub(now)+100*time.Millisecond)
			return
		}
	}
}

// finish moves the session to TERMINAL exactly once and releases every
// per-session resource. Safe to call from the run loop only.
func (s *Session) finish(reason models.TerminalReason) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = models.StateTerminal
	s.reason = reason
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.cancel()

	slog.Info("Monitoring session terminated",
		"session", s.id,
		"flight", s.req.Flight.String(),
		"reason", reason,
	)

	s.persist()
	if s.onTerminal != nil {
		s.onTerminal(snap)
	}
}

// rearmWatchdog schedules the expiry fallback for the current gate deadline.
func (s *Session) rearmWatchdog(watchdog *time.Timer) {
	s.mu.RLock()
	flight := s.flight
	s.mu.RUnlock()
	if flight == nil || flight.Status.Terminal() {
		return
	}

	resetTimer(watchdog, time.Until(flight.GateDeadline().Add(s.cfg.ExpiryGrace)))
}

// pollInterval adapts the cadence: tighter once the estimated departure is
// close, relaxed otherwise.
func (s *Session) pollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flight != nil && time.Until(s.flight.EstimatedDeparture) <= s.cfg.NearWindow {
		return s.cfg.NearInterval
	}
	return s.cfg.FarInterval
}

// currentDeadline is the arrival instant the traffic poller should route
// for. Zero until the first flight snapshot arrives.
func (s *Session) currentDeadline() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flight == nil {
		return time.Time{}
	}
	return s.flight.GateDeadline()
}

func (s *Session) persist() {
	if s.repo == nil {
		return
	}

	s.mu.RLock()
	snap := store.SessionSnapshot{
		ID:         s.id,
		Flight:     s.req.Flight,
		Origin:     s.req.Origin,
		Airport:    s.req.Airport,
		RouteClass: s.req.RouteClass,
		State:      s.state,
		Reason:     s.reason,
		UpdatedAt:  time.Now(),
	}
	if s.window != nil {
		w := *s.window
		snap.Window = &w
	}
	s.mu.RUnlock()

	if err := s.repo.Save(snap); err != nil {
		slog.Error("Failed to persist session", "session", s.id, "error", err)
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
