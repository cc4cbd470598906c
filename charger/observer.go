package charger

import "time"

// Message results reported to an Observer
const (
	ResultAccepted     = "accepted"
	ResultEmpty        = "empty"
	ResultInvalidJSON  = "invalid_json"
	ResultMissingPower = "missing_power"
	ResultIgnored      = "ignored"
	ResultError        = "error"
)

// Observer receives engine counters. Calls happen on the engine goroutine.
type Observer interface {
	MessageHandled(result string)
	KeyRejected(path string)
	Published()
	UpdateIndex(v uint8)
	TelemetryAge(age time.Duration)
}

// NopObserver discards everything
type NopObserver struct{}

func (NopObserver) MessageHandled(string)      {}
func (NopObserver) KeyRejected(string)         {}
func (NopObserver) Published()                 {}
func (NopObserver) UpdateIndex(uint8)          {}
func (NopObserver) TelemetryAge(time.Duration) {}

var _ Observer = NopObserver{}
