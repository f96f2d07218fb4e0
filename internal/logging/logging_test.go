package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "debug", "json")
		require.NoError(t, err)

		logger.Info("uploaded exercises", "count", 3)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "uploaded exercises", line["msg"])
		assert.EqualValues(t, 3, line["count"])
	})

	t.Run("level filters output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "warn", "text")
		require.NoError(t, err)

		logger.Info("hidden")
		assert.Empty(t, buf.String())

		logger.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("defaults to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "", "")
		require.NoError(t, err)

		logger.Debug("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, "loud", "text")
		assert.Error(t, err)
	})
}
