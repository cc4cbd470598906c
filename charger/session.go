package charger

import "time"

// DefaultStopChargingAfter is how long power must stay at zero before a session ends
const DefaultStopChargingAfter = 300 * time.Second

// SessionState is the phase of the charging session timer
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionCharging
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionCharging:
		return "charging"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ChargingSession tracks when charging started and how long power has been zero
type ChargingSession struct {
	start        time.Time
	stoppedSince time.Time
	grace        time.Duration
}

// NewChargingSession creates an idle session that ends after grace of zero power
func NewChargingSession(grace time.Duration) *ChargingSession {
	if grace <= 0 {
		grace = DefaultStopChargingAfter
	}
	return &ChargingSession{grace: grace}
}

// State returns the current session phase
func (s *ChargingSession) State() SessionState {
	switch {
	case s.start.IsZero():
		return SessionIdle
	case s.stoppedSince.IsZero():
		return SessionCharging
	default:
		return SessionStopped
	}
}

// Start returns when the active session began, zero when idle
func (s *ChargingSession) Start() time.Time {
	return s.start
}

// Update applies one power reading taken at now.
// It returns the whole seconds since the session started and true while a
// session is active, or false when the session is (or has just become) idle.
func (s *ChargingSession) Update(now time.Time, power float64) (int64, bool) {
	if s.start.IsZero() && power > 0 {
		s.start = now
	}
	if s.start.IsZero() {
		return 0, false
	}

	switch {
	case power == 0 && s.stoppedSince.IsZero():
		s.stoppedSince = now
	case power > 0 && !s.stoppedSince.IsZero():
		s.stoppedSince = time.Time{}
	}

	if !s.stoppedSince.IsZero() && now.Sub(s.stoppedSince) > s.grace {
		s.Reset()
		return 0, false
	}

	return now.Unix() - s.start.Unix(), true
}

// Reset returns the session to idle
func (s *ChargingSession) Reset() {
	s.start = time.Time{}
	s.stoppedSince = time.Time{}
}
