package charger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogCheck(t *testing.T) {
	last := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	w := Watchdog{Timeout: 60 * time.Second}

	assert.NoError(t, w.Check(last.Add(60*time.Second), last))

	err := w.Check(last.Add(61*time.Second), last)
	assert.ErrorIs(t, err, ErrStale)
	assert.True(t, IsFatal(err))
}

func TestWatchdogDisabled(t *testing.T) {
	last := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	w := Watchdog{}

	assert.NoError(t, w.Check(last.Add(24*time.Hour), last))
	assert.NoError(t, w.CheckFirstEvent(24*time.Hour))
}

func TestWatchdogFirstEvent(t *testing.T) {
	w := Watchdog{Timeout: 60 * time.Second}

	assert.NoError(t, w.CheckFirstEvent(55*time.Second))

	err := w.CheckFirstEvent(60 * time.Second)
	assert.ErrorIs(t, err, ErrNoFirstEvent)
	assert.True(t, IsFatal(err))
}
