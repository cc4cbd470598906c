package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"DEBUG":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"WARNING":  zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"CRITICAL": zerolog.FatalLevel,
		"":         zerolog.WarnLevel,
		"verbose":  zerolog.WarnLevel,
	}
	for in, expected := range tests {
		assert.Equal(t, expected, parseLevel(in), in)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, zerolog.WarnLevel, true)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
