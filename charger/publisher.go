package charger

import (
	"errors"

	"github.com/rs/zerolog"
)

// Publisher pushes registry values to the device interface and owns the
// wrapping freshness counter
type Publisher struct {
	dev     DeviceInterface
	log     zerolog.Logger
	counter uint8
}

// NewPublisher creates a publisher writing to dev
func NewPublisher(dev DeviceInterface, log zerolog.Logger) *Publisher {
	return &Publisher{dev: dev, log: log}
}

// PushAll writes every attribute. A failed push is logged and skipped, except
// ErrValueType which aborts with a FatalError.
func (p *Publisher) PushAll(attrs []Attribute) error {
	for _, a := range attrs {
		err := p.dev.SetAttribute(a.Path, a.Value)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrValueType) {
			p.log.Error().Err(err).Str("path", a.Path).Interface("value", a.Value).
				Msg("Received key with a value the device interface cannot carry")
			return fatalf(ErrValueType, "%s: %v", a.Path, err)
		}
		p.log.Error().Err(err).Str("path", a.Path).Msg("Failed to publish attribute")
	}
	return nil
}

// Advance increments the freshness counter (255 wraps to 0) and publishes it
func (p *Publisher) Advance() uint8 {
	p.counter++
	if err := p.dev.SetAttribute(PathUpdateIndex, int64(p.counter)); err != nil {
		p.log.Error().Err(err).Msg("Failed to publish update index")
	}
	return p.counter
}

// Counter returns the last published counter value
func (p *Publisher) Counter() uint8 {
	return p.counter
}
