package charger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPublisherCounterWraps(t *testing.T) {
	dev := newFakeDevice()
	p := NewPublisher(dev, zerolog.Nop())

	for i := 1; i <= 255; i++ {
		assert.Equal(t, uint8(i), p.Advance())
	}
	assert.Equal(t, int64(255), dev.value(PathUpdateIndex))

	assert.Equal(t, uint8(0), p.Advance())
	assert.Equal(t, int64(0), dev.value(PathUpdateIndex))
	assert.Equal(t, uint8(1), p.Advance())
}

func TestPublisherSkipsFailedPush(t *testing.T) {
	dev := newFakeDevice()
	dev.failures[PathAcL1Power] = errors.New("bus busy")
	p := NewPublisher(dev, zerolog.Nop())

	err := p.PushAll([]Attribute{
		{Path: PathAcPower, Value: int64(10)},
		{Path: PathAcL1Power, Value: int64(10)},
		{Path: PathAcL2Power, Value: int64(20)},
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), dev.value(PathAcPower))
	assert.Equal(t, int64(20), dev.value(PathAcL2Power))
	assert.Equal(t, 0, dev.pushCount(PathAcL1Power))
}

func TestPublisherValueTypeIsFatal(t *testing.T) {
	dev := newFakeDevice()
	dev.failures[PathModel] = fmt.Errorf("%w: []int", ErrValueType)
	p := NewPublisher(dev, zerolog.Nop())

	err := p.PushAll([]Attribute{
		{Path: PathModel, Value: []int{1}},
		{Path: PathStatus, Value: int64(2)},
	})
	assert.ErrorIs(t, err, ErrValueType)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, dev.pushCount(PathStatus))
}
