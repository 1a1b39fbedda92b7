package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Service: "forecastforge", Out: &buf})
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("feature_id", "f1").Msg("forecast_generation_failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "forecast_generation_failed", line["message"])
	assert.Equal(t, "forecastforge", line["service"])
	assert.Equal(t, "f1", line["feature_id"])
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "debug", Format: "console", Out: &buf})
	require.NoError(t, err)
	log.Debug().Msg("forecast_attempt_start")
	assert.Contains(t, buf.String(), "forecast_attempt_start")
}
