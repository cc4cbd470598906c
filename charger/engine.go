// Package charger turns EV charger telemetry events into a flat, path-addressed
// device model and keeps that model fresh on a management bus.
//
// The Engine is single-threaded: bus messages arrive on a channel and are
// handled on the same goroutine as the publish tick, so the registry, clock
// and charging session need no locking.
package charger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPublishInterval = time.Second
	DefaultPollInterval    = 5 * time.Second

	// a warning instead of an info line every this many polls
	pollWarnEvery = 12
)

// Message is one payload delivered by the bus
type Message struct {
	Topic   string
	Payload []byte
}

// Clock holds the engine timestamps. A zero time means "never".
type Clock struct {
	LastChangedAt   time.Time
	LastPublishedAt time.Time
}

// Options configures an Engine
type Options struct {
	// Topic is the only bus topic the engine consumes
	Topic string
	// Voltage is the nominal line voltage used to estimate current
	Voltage float64
	// Timeout is the allowed telemetry silence; 0 disables the watchdog
	Timeout time.Duration

	PublishInterval   time.Duration
	PollInterval      time.Duration
	StopChargingAfter time.Duration

	Identity Identity
	Logger   zerolog.Logger
	Observer Observer

	// Snapshots, when set, receives a registry copy after each tick.
	// Sends never block; a full channel drops the snapshot.
	Snapshots chan<- Snapshot

	// Now overrides the wall clock
	Now func() time.Time
}

// Engine owns the device model and its timing state
type Engine struct {
	opts     Options
	log      zerolog.Logger
	obs      Observer
	now      func() time.Time
	dev      DeviceInterface
	reg      *Registry
	pub      *Publisher
	session  *ChargingSession
	watchdog Watchdog
	clock    Clock

	calculateElapsed bool
}

// New creates an engine publishing to dev
func New(dev DeviceInterface, opts Options) *Engine {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		opts:     opts,
		log:      opts.Logger,
		obs:      opts.Observer,
		now:      opts.Now,
		dev:      dev,
		reg:      NewRegistry(),
		pub:      NewPublisher(dev, opts.Logger),
		session:  NewChargingSession(opts.StopChargingAfter),
		watchdog: Watchdog{Timeout: opts.Timeout},
	}
}

// Registry exposes the device model. Not safe for use while Run is active.
func (e *Engine) Registry() *Registry { return e.reg }

// Clock returns the current timestamps
func (e *Engine) Clock() Clock { return e.clock }

// Session returns the charging session phase
func (e *Engine) Session() SessionState { return e.session.State() }

// UpdateIndex returns the last published freshness counter
func (e *Engine) UpdateIndex() uint8 { return e.pub.Counter() }

// CalculatesElapsed reports whether the engine computes /ChargingTime itself
func (e *Engine) CalculatesElapsed() bool { return e.calculateElapsed }

// HandleMessage normalizes one bus payload into the registry. Rejected
// payloads are logged and returned as errors; they never stop the engine.
func (e *Engine) HandleMessage(msg Message, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discarded event after panic: %v", r)
			e.log.Error().Str("payload", string(msg.Payload)).Msgf("Exception occurred: %v", r)
			e.obs.MessageHandled(ResultError)
		}
	}()

	if e.opts.Topic != "" && msg.Topic != e.opts.Topic {
		e.log.Debug().Str("topic", msg.Topic).Msg("Ignoring message from unexpected topic")
		e.obs.MessageHandled(ResultIgnored)
		return nil
	}

	ev, err := DecodeEvent(msg.Payload)
	if err != nil {
		e.logRejected(err, msg.Payload)
		return err
	}

	e.apply(ev)
	e.clock.LastChangedAt = now
	e.obs.MessageHandled(ResultAccepted)

	return nil
}

func (e *Engine) logRejected(err error, payload []byte) {
	switch {
	case errors.Is(err, ErrEmptyPayload):
		e.log.Warn().Msg("Received message was empty and therefore it was ignored")
		e.obs.MessageHandled(ResultEmpty)
	case errors.Is(err, ErrMissingPower):
		e.log.Warn().Err(err).Msg(`Received JSON doesn't contain minimum required values, example: {"Ac":{"Power":321.6}}`)
		e.obs.MessageHandled(ResultMissingPower)
	default:
		e.log.Error().Err(err).Msg("Received message is not a valid JSON")
		e.obs.MessageHandled(ResultInvalidJSON)
	}
	e.log.Debug().Str("payload", string(payload)).Msg("MQTT payload")
}

// apply writes a decoded event into the registry and fills derived values
func (e *Engine) apply(ev *Event) {
	for _, leaf := range ev.Leaves {
		if !leaf.Valid || !e.reg.Has(leaf.Path) {
			e.log.Warn().Msgf("Received key %q with value %q is not valid", leaf.Path, leaf.Raw)
			e.obs.KeyRejected(leaf.Path)
			continue
		}
		_ = e.reg.Set(leaf.Path, leaf.Value)
	}

	if !ev.HasCurrent {
		_ = e.reg.Set(PathCurrent, EstimateCurrent(ev.Power, e.opts.Voltage, ev.Phases))
	}

	e.calculateElapsed = !ev.HasChargingTime
}

// Register announces every attribute to the device interface: identity paths
// first, then the registry, then the update index
func (e *Engine) Register() error {
	for _, a := range e.opts.Identity.attributes() {
		if err := e.dev.RegisterAttribute(a.Path, a.Value, a.Format, false); err != nil {
			return fmt.Errorf("register %s: %w", a.Path, err)
		}
	}
	for _, a := range e.reg.Attributes() {
		if err := e.dev.RegisterAttribute(a.Path, a.Value, a.Format, true); err != nil {
			return fmt.Errorf("register %s: %w", a.Path, err)
		}
	}
	if err := e.dev.RegisterAttribute(PathUpdateIndex, int64(0), FormatNumber, true); err != nil {
		return fmt.Errorf("register %s: %w", PathUpdateIndex, err)
	}

	if a, ok := e.dev.(Announcer); ok {
		if err := a.Announce(); err != nil {
			return fmt.Errorf("announce device: %w", err)
		}
	}

	return nil
}

// Tick runs one publish cycle: push new data, advance the charging timer,
// check staleness, then advance the update index.
// A non-nil error is always a FatalError.
func (e *Engine) Tick(now time.Time) error {
	changed := false
	if !e.clock.LastChangedAt.Equal(e.clock.LastPublishedAt) {
		if err := e.pub.PushAll(e.reg.Attributes()); err != nil {
			return err
		}
		power, _ := toFloat(e.reg.Value(PathAcPower))
		e.log.Info().Msgf("Data: %.2f W", power)
		e.clock.LastPublishedAt = e.clock.LastChangedAt
		e.obs.Published()
		changed = true
	}

	if e.calculateElapsed {
		e.updateChargingTime(now)
	}

	e.obs.TelemetryAge(now.Sub(e.clock.LastChangedAt))
	if err := e.watchdog.Check(now, e.clock.LastChangedAt); err != nil {
		e.log.Error().Err(err).Msg("Driver stopped")
		return err
	}

	idx := e.pub.Advance()
	e.obs.UpdateIndex(idx)
	e.offerSnapshot(changed)

	return nil
}

func (e *Engine) updateChargingTime(now time.Time) {
	wasActive := e.session.State() != SessionIdle
	power, _ := toFloat(e.reg.Value(PathAcPower))

	elapsed, active := e.session.Update(now, power)
	switch {
	case active:
		_ = e.reg.Set(PathChargingTime, elapsed)
	case wasActive:
		e.log.Info().Msg("Charging session ended")
		_ = e.reg.Set(PathChargingTime, nil)
	}
}

func (e *Engine) offerSnapshot(changed bool) {
	if e.opts.Snapshots == nil {
		return
	}
	s := e.reg.Snapshot()
	s.Index = e.pub.Counter()
	s.Changed = changed
	select {
	case e.opts.Snapshots <- s:
	default:
		e.log.Debug().Msg("Snapshot channel full, dropping snapshot")
	}
}

// Run waits for the first valid event, registers the device model and then
// ticks until ctx is cancelled (nil) or a fatal condition occurs (FatalError).
func (e *Engine) Run(ctx context.Context, msgs <-chan Message) error {
	if err := e.waitForFirstEvent(ctx, msgs); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	if err := e.Register(); err != nil {
		return &FatalError{Err: err}
	}
	e.log.Info().Msg("Device registered, switching over to event based updates")

	ticker := time.NewTicker(e.opts.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			_ = e.HandleMessage(msg, e.now())
		case <-ticker.C:
			if err := e.Tick(e.now()); err != nil {
				return err
			}
		}
	}
}

// waitForFirstEvent handles messages until one is accepted, checking the
// timeout on every poll interval
func (e *Engine) waitForFirstEvent(ctx context.Context, msgs <-chan Message) error {
	poll := time.NewTicker(e.opts.PollInterval)
	defer poll.Stop()

	started := e.now()
	for i := 0; ; i++ {
		if !e.clock.LastChangedAt.IsZero() {
			return nil
		}

		waited := e.now().Sub(started)
		if i%pollWarnEvery != 0 || i == 0 {
			e.log.Info().Msgf("Waiting %s for receiving first data...", e.opts.PollInterval)
		} else {
			e.log.Warn().Msgf("Waiting since %s for receiving first data...", waited.Truncate(time.Second))
		}

		if err := e.watchdog.CheckFirstEvent(waited); err != nil {
			e.log.Error().Err(err).Msg("Driver stopped")
			return err
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-msgs:
				if !ok {
					msgs = nil
					continue
				}
				_ = e.HandleMessage(msg, e.now())
			case <-poll.C:
				break wait
			}
		}
	}
}
