package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("info", func(t *testing.T) {
		logger, err := New("info", FormatJSON)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("debug", func(t *testing.T) {
		logger, err := New("debug", FormatJSON)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid level", func(t *testing.T) {
		logger, err := New("loud", FormatJSON)
		require.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("empty defaults to info json", func(t *testing.T) {
		logger, err := New("", "")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})
}

func TestFormats(t *testing.T) {
	console, err := New("warn", FormatConsole)
	require.NoError(t, err)
	assert.True(t, console.Core().Enabled(zap.WarnLevel))
	assert.False(t, console.Core().Enabled(zap.InfoLevel), "level overrides the development default")

	_, err = New("info", Format("xml"))
	require.ErrorContains(t, err, `unknown format "xml"`)
}

func TestRootName(t *testing.T) {
	logger, err := New("info", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, Name, logger.Name())
	assert.Equal(t, Name+".cli", logger.Named("cli").Name())
}
