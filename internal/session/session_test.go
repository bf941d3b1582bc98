package session

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhinavathankar/Departly.ai/internal/models"
	"github.com/abhinavathankar/Departly.ai/internal/providers"
	"github.com/abhinavathankar/Departly.ai/internal/store"
	"github.com/abhinavathankar/Departly.ai/internal/tracker"
	"github.com/abhinavathankar/Departly.ai/internal/traffic"
	"github.com/abhinavathankar/Departly.ai/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFlightSource serves whatever payload it currently holds; tests
// mutate it mid-session to simulate upstream changes.
type scriptedFlightSource struct {
	mu      sync.Mutex
	payload providers.FlightStatusPayload
	err     error
}

func (s *scriptedFlightSource) set(p providers.FlightStatusPayload, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
	s.err = err
}

func (s *scriptedFlightSource) Lookup(ctx context.Context, id models.FlightIdentifier) (providers.FlightStatusPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return providers.FlightStatusPayload{}, s.err
	}
	return s.payload, nil
}

type scriptedTrafficSource struct {
	mu      sync.Mutex
	payload providers.RoutePayload
	err     error
	calls   int
}

func (s *scriptedTrafficSource) set(p providers.RoutePayload, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = p
	s.err = err
}

func (s *scriptedTrafficSource) Route(ctx context.Context, origin, destination models.Coordinates, desiredArrival time.Time) (providers.RoutePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return providers.RoutePayload{}, s.err
	}
	return s.payload, nil
}

func testConfig() Config {
	return Config{
		NearInterval: 20 * time.Millisecond,
		FarInterval:  20 * time.Millisecond,
		NearWindow:   3 * time.Hour,
		Debounce:     5 * time.Millisecond,
		ExpiryGrace:  45 * time.Minute,
	}
}

func testRequest() Request {
	return Request{
		Flight:     models.FlightIdentifier{Carrier: "UA", Number: "100", Date: "2025-03-14"},
		Origin:     models.Coordinates{Lat: 37.77, Lon: -122.42},
		Airport:    models.Coordinates{Lat: 37.62, Lon: -122.38},
		RouteClass: "domestic",
	}
}

func scheduledPayload(estimated time.Time) providers.FlightStatusPayload {
	return providers.FlightStatusPayload{
		Carrier:            "UA",
		Number:             "100",
		OriginAirport:      "SFO",
		DestinationAirport: "EWR",
		ScheduledDeparture: estimated,
		EstimatedDeparture: estimated,
		Status:             "scheduled",
		GateCloseOffset:    30 * time.Minute,
	}
}

func routePayload(point, pessimistic time.Duration) providers.RoutePayload {
	return providers.RoutePayload{Duration: point, Pessimistic: pessimistic}
}

func testCalculator() *window.Calculator {
	return window.NewCalculator(window.Policy{
		CheckinBuffers: map[string]time.Duration{
			"domestic":      45 * time.Minute,
			"international": 90 * time.Minute,
		},
		FallbackCheckinBuffer: 90 * time.Minute,
		DefaultGateClose:      30 * time.Minute,
		Alpha:                 0.3,
		ComfortMargin:         15 * time.Minute,
		StaleAfter:            10 * time.Minute,
	})
}

func newTestSession(t *testing.T, fs providers.FlightSource, ts providers.TrafficSource, repo store.SessionRepository, cfg Config) *Session {
	tr := tracker.New(fs, nil, 30*time.Minute, 10*time.Minute)
	est := traffic.New(ts, nil, 1.35, 30*time.Minute, 30*time.Minute)

	s, err := New(t.Name(), testRequest(), tr, est, testCalculator(), repo, cfg, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		select {
		case <-s.Done():
		default:
			s.Stop()
		}
	})
	return s
}

func TestSession_NoWindowUntilBothInputs(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{err: providers.ErrSourceUnavailable}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	time.Sleep(100 * time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, models.StateInitializing, snap.State)
	assert.Nil(t, snap.Window, "no window may be published with one input missing")

	ts.set(routePayload(40*time.Minute, 55*time.Minute), nil)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == models.StateActive && snap.Window != nil
	}, 2*time.Second, 10*time.Millisecond)

	snap = s.Snapshot()
	assert.Equal(t, models.UrgencyComfortable, snap.Window.Urgency)
}

// A flight delay must re-open the window: the session drops back from URGENT
// to ACTIVE because urgency is recomputed from scratch each cycle.
func TestSession_UrgentReopensOnDelay(t *testing.T) {
	// Deadline 40 minutes out with a 75 minute lead time: already urgent.
	estimated := time.Now().Add(70 * time.Minute)
	fs := &scriptedFlightSource{payload: scheduledPayload(estimated)}
	ts := &scriptedTrafficSource{payload: routePayload(30*time.Minute, 40*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	require.Eventually(t, func() bool {
		return s.Snapshot().State == models.StateUrgent
	}, 2*time.Second, 10*time.Millisecond)

	delayed := scheduledPayload(estimated)
	delayed.Status = "delayed"
	delayed.EstimatedDeparture = time.Now().Add(6 * time.Hour)
	fs.set(delayed, nil)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == models.StateActive &&
			snap.Window != nil &&
			snap.Window.Urgency == models.UrgencyComfortable
	}, 2*time.Second, 10*time.Millisecond)
}

// Several distinct updates landing inside one debounce window must collapse
// into a single recomputation.
func TestSession_DebounceCoalescesUpdates(t *testing.T) {
	estimated := time.Now().Add(6 * time.Hour)
	fs := &scriptedFlightSource{payload: scheduledPayload(estimated)}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	cfg := testConfig()
	cfg.NearInterval = 10 * time.Millisecond
	cfg.FarInterval = 10 * time.Millisecond
	cfg.Debounce = 200 * time.Millisecond

	tr := tracker.New(fs, nil, 30*time.Minute, 10*time.Minute)
	est := traffic.New(ts, nil, 1.35, 30*time.Minute, 30*time.Minute)

	var recomputes atomic.Int32
	s, err := New(t.Name(), testRequest(), tr, est, testCalculator(), nil, cfg,
		func(Snapshot) { recomputes.Add(1) }, nil)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	s.Start()

	// Keep feeding distinct estimates while the debounce timer is pending.
	for i := 1; i <= 4; i++ {
		ts.set(routePayload(40*time.Minute+time.Duration(i)*time.Minute,
			55*time.Minute+time.Duration(i)*time.Minute), nil)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return recomputes.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// No further input changes: the burst must have produced exactly one
	// recomputation, and steady polling must not add more.
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, recomputes.Load())

	snap := s.Snapshot()
	require.NotNil(t, snap.Window)
	assert.Equal(t, models.StateActive, snap.State)
	// The single recomputation used the last estimate of the burst: latest
	// leave is deadline minus the 44m drive and the 45m check-in buffer.
	wantLatest := estimated.Add(-30 * time.Minute).Add(-44 * time.Minute).Add(-45 * time.Minute)
	assert.True(t, snap.Window.LatestLeave.Equal(wantLatest))
}

// With both upstreams frozen the window still escalates as the clock runs
// down: crossing the latest-leave instant flips the session to URGENT with
// no new input at all.
func TestSession_EscalatesAsClockAdvances(t *testing.T) {
	// Latest leave lands ~300ms from now: estimated departure minus the
	// 30m gate close, 45m check-in buffer and 40m drive.
	estimated := time.Now().Add(115*time.Minute + 300*time.Millisecond)
	fs := &scriptedFlightSource{payload: scheduledPayload(estimated)}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == models.StateActive &&
			snap.Window != nil &&
			snap.Window.Urgency == models.UrgencyTight
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == models.StateUrgent &&
			snap.Window.Urgency == models.UrgencyUrgent
	}, 2*time.Second, 10*time.Millisecond)
}

// Traffic source fails after the first success: the session keeps the prior
// estimate and never publishes a null window, then resumes on recovery.
func TestSession_TrafficOutageRetainsEstimate(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	require.Eventually(t, func() bool {
		return s.Snapshot().Window != nil
	}, 2*time.Second, 10*time.Millisecond)
	firstLatest := s.Snapshot().Window.LatestLeave

	ts.set(providers.RoutePayload{}, providers.ErrSourceUnavailable)
	time.Sleep(100 * time.Millisecond)

	snap := s.Snapshot()
	require.NotNil(t, snap.Window, "outage must not clear the published window")
	assert.True(t, snap.Window.LatestLeave.Equal(firstLatest))

	// Recovery with a longer drive pulls the window earlier.
	ts.set(routePayload(50*time.Minute, 65*time.Minute), nil)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Window != nil && snap.Window.LatestLeave.Equal(firstLatest.Add(-10*time.Minute))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_CancelledStopsPolling(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	require.Eventually(t, func() bool {
		return s.Snapshot().State == models.StateActive
	}, 2*time.Second, 10*time.Millisecond)

	cancelled := scheduledPayload(time.Now().Add(6 * time.Hour))
	cancelled.Status = "cancelled"
	fs.set(cancelled, nil)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after cancellation")
	}

	snap := s.Snapshot()
	assert.Equal(t, models.StateTerminal, snap.State)
	assert.Equal(t, models.TerminalCancelled, snap.Reason)

	// Polling must stop once terminal.
	ts.mu.Lock()
	callsAtTerminal := ts.calls
	ts.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	ts.mu.Lock()
	callsAfter := ts.calls
	ts.mu.Unlock()
	assert.Equal(t, callsAtTerminal, callsAfter)
}

func TestSession_DepartedTerminal(t *testing.T) {
	departed := scheduledPayload(time.Now().Add(time.Hour))
	departed.Status = "departed"
	fs := &scriptedFlightSource{payload: departed}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after departure")
	}

	assert.Equal(t, models.TerminalDeparted, s.Snapshot().Reason)
}

// Deadline long past with no departure signal: the watchdog forces the
// safety terminal state even though upstream still reports "scheduled".
func TestSession_ExpiresOnFrozenUpstream(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(-2 * time.Hour))}
	ts := &scriptedTrafficSource{err: providers.ErrSourceUnavailable}

	cfg := testConfig()
	cfg.ExpiryGrace = 0

	s := newTestSession(t, fs, ts, nil, cfg)
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not expire")
	}

	snap := s.Snapshot()
	assert.Equal(t, models.StateTerminal, snap.State)
	assert.Equal(t, models.TerminalExpired, snap.Reason)
}

func TestSession_StopReleasesResources(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, nil, testConfig())
	s.Start()
	s.Stop()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Stop returns")
	}

	snap := s.Snapshot()
	assert.Equal(t, models.StateTerminal, snap.State)
	assert.Equal(t, models.TerminalStopped, snap.Reason)
}

func TestSession_PersistsTerminalState(t *testing.T) {
	tmpFile := "/tmp/test_departly_" + t.Name() + ".db"
	os.Remove(tmpFile)
	st, err := store.New(tmpFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpFile)
	})

	cancelled := scheduledPayload(time.Now().Add(6 * time.Hour))
	cancelled.Status = "cancelled"
	fs := &scriptedFlightSource{payload: cancelled}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	s := newTestSession(t, fs, ts, st.Sessions(), testConfig())
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	persisted, err := st.Sessions().Load(t.Name())
	require.NoError(t, err)
	assert.Equal(t, models.StateTerminal, persisted.State)
	assert.Equal(t, models.TerminalCancelled, persisted.Reason)
}

func TestManager_IndependentSessions(t *testing.T) {
	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	tr := tracker.New(fs, nil, 30*time.Minute, 10*time.Minute)
	est := traffic.New(ts, nil, 1.35, 30*time.Minute, 30*time.Minute)
	m := NewManager(tr, est, testCalculator(), nil, testConfig(), nil, nil)
	t.Cleanup(m.StopAll)

	_, err := m.Start("a", testRequest())
	require.NoError(t, err)

	reqB := testRequest()
	reqB.Flight.Number = "200"
	_, err = m.Start("b", reqB)
	require.NoError(t, err)

	_, err = m.Start("a", testRequest())
	assert.Error(t, err, "duplicate ids are rejected")

	require.NoError(t, m.Stop("a"))

	b, ok := m.Get("b")
	require.True(t, ok)
	assert.False(t, b.Snapshot().State.IsTerminal(), "stopping one session must not touch another")
}

// Sessions that reach TERMINAL on their own are dropped from the manager so
// long-lived processes do not accumulate dead entries.
func TestManager_PrunesSelfTerminatedSessions(t *testing.T) {
	cancelled := scheduledPayload(time.Now().Add(6 * time.Hour))
	cancelled.Status = "cancelled"
	fs := &scriptedFlightSource{payload: cancelled}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}

	tr := tracker.New(fs, nil, 30*time.Minute, 10*time.Minute)
	est := traffic.New(ts, nil, 1.35, 30*time.Minute, 30*time.Minute)

	var terminals atomic.Int32
	m := NewManager(tr, est, testCalculator(), nil, testConfig(),
		nil, func(Snapshot) { terminals.Add(1) })
	t.Cleanup(m.StopAll)

	s, err := m.Start("doomed", testRequest())
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after cancellation")
	}

	require.Eventually(t, func() bool {
		_, ok := m.Get("doomed")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	// The caller's terminal callback still fired, and the id is free again.
	assert.EqualValues(t, 1, terminals.Load())
	_, err = m.Start("doomed", testRequest())
	require.NoError(t, err)
}

// Sessions persisted in the store are restored and resume polling.
func TestManager_ResumesPersistedSessions(t *testing.T) {
	tmpFile := "/tmp/test_departly_" + t.Name() + ".db"
	os.Remove(tmpFile)
	st, err := store.New(tmpFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpFile)
	})

	req := testRequest()
	require.NoError(t, st.Sessions().Save(store.SessionSnapshot{
		ID:         "restored",
		Flight:     req.Flight,
		Origin:     req.Origin,
		Airport:    req.Airport,
		RouteClass: req.RouteClass,
		State:      models.StateActive,
		UpdatedAt:  time.Now(),
	}))

	fs := &scriptedFlightSource{payload: scheduledPayload(time.Now().Add(6 * time.Hour))}
	ts := &scriptedTrafficSource{payload: routePayload(40*time.Minute, 55*time.Minute)}
	tr := tracker.New(fs, nil, 30*time.Minute, 10*time.Minute)
	est := traffic.New(ts, nil, 1.35, 30*time.Minute, 30*time.Minute)

	m := NewManager(tr, est, testCalculator(), st.Sessions(), testConfig(), nil, nil)
	t.Cleanup(m.StopAll)

	require.NoError(t, m.Resume())

	s, ok := m.Get("restored")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return s.Snapshot().Window != nil
	}, 2*time.Second, 10*time.Millisecond)
}
