package models

// SessionState is the lifecycle state of one monitoring session.
type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateActive       SessionState = "active"
	StateUrgent       SessionState = "urgent"
	StateTerminal     SessionState = "terminal"
)

// IsTerminal reports whether the session has finished monitoring.
func (s SessionState) IsTerminal() bool {
	return s == StateTerminal
}

// TerminalReason records why a session entered the terminal state.
type TerminalReason string

const (
	TerminalDeparted  TerminalReason = "departed"
	TerminalCancelled TerminalReason = "cancelled"
	// TerminalExpired is the safety fallback: the gate deadline passed with
	// no departure signal from upstream.
	TerminalExpired TerminalReason = "expired"
	// TerminalStopped means the session was cancelled by its owner.
	TerminalStopped TerminalReason = "stopped"
)
