package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogFormatJSON, ParseLogFormat("json"))
	assert.Equal(t, LogFormatPretty, ParseLogFormat(" Pretty "))
	assert.Equal(t, LogFormatUndefined, ParseLogFormat("xml"))
	assert.Equal(t, "pretty", LogFormatPretty.String())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{LogLevel: "debug", LogFormat: "json", TraceSampleRate: 1.0}
	require.NoError(t, valid.validate())

	badLevel := valid
	badLevel.LogLevel = "loud"
	require.Error(t, badLevel.validate())

	badFormat := valid
	badFormat.LogFormat = "xml"
	require.Error(t, badFormat.validate())

	enabledWithoutEndpoint := valid
	enabledWithoutEndpoint.Enabled = true
	require.Error(t, enabledWithoutEndpoint.validate())
}

func TestOptionsApply(t *testing.T) {
	t.Parallel()

	opts := newDefaultOptions()
	cfg := Config{LogLevel: "info", LogFormat: "json", TraceSampleRate: 0.5}
	cfg.applyToOptions(&opts)

	// Without a service name the options are incomplete.
	require.Error(t, opts.validate())

	opts.apply(Options{ServiceName: "beacon", LogFormat: LogFormatPretty})
	require.NoError(t, opts.validate())
	assert.Equal(t, LogFormatPretty, opts.LogFormat)
	assert.InDelta(t, 0.5, opts.TraceSampleRate, 1e-9)
}

func TestNewNop(t *testing.T) {
	t.Parallel()

	tel := NewNop("test")
	logger := tel.GetLogger("device")
	logger.Info().Msg("discarded")
	require.NotNil(t, tel.Tracer)
}
