package charger

import "time"

// Watchdog enforces the telemetry liveness contract. A zero Timeout disables it.
type Watchdog struct {
	Timeout time.Duration
}

// Check fails when the last accepted event is older than the timeout
func (w Watchdog) Check(now, lastChangedAt time.Time) error {
	if w.Timeout == 0 {
		return nil
	}
	if age := now.Sub(lastChangedAt); age > w.Timeout {
		return fatalf(ErrStale, "no new MQTT message was received for %s (timeout %s)",
			age.Truncate(time.Second), w.Timeout)
	}
	return nil
}

// CheckFirstEvent fails once the start-up wait has reached the timeout
func (w Watchdog) CheckFirstEvent(waited time.Duration) error {
	if w.Timeout == 0 {
		return nil
	}
	if waited >= w.Timeout {
		return fatalf(ErrNoFirstEvent, "waited %s (timeout %s)", waited.Truncate(time.Second), w.Timeout)
	}
	return nil
}
