package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		logger, err := NewLogger("info", format)
		require.NoError(t, err, "format %q", format)
		require.NotNil(t, logger)
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	_, err := NewLogger("loud", "console")
	require.Error(t, err)

	_, err = NewLogger("info", "xml")
	require.Error(t, err)
}
