package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"

	"github.com/kfrey-idm/emod-api-sub000/internal/config"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	logger.Warn().Str("key", "Run_Number").Msg("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"key":"Run_Number"`)
	require.Contains(t, out, `"level":"warn"`)
}

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("configuration written")
	require.Contains(t, buf.String(), "configuration written")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestSetupErrors(t *testing.T) {
	var buf bytes.Buffer
	_, _, err := setup(config.LoggingConfig{Level: "loud"}, &buf)
	require.Error(t, err)

	_, _, err = setup(config.LoggingConfig{Format: "xml"}, &buf)
	require.Error(t, err)

	_, _, err = setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, &buf)
	require.ErrorContains(t, err, "loki url is required")
}

func TestStreamLabels(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": AppLabel}, streamLabels(nil))
	require.Equal(t, model.LabelSet{"app": "batch", "team": "modelling"},
		streamLabels(map[string]string{"app": "batch", "team": "modelling"}))
}
