package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	t.Run("carries the code and message", func(t *testing.T) {
		err := exitError(3, "Invalid configuration", errors.New("missing queue url"))

		var ce *cliError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 3, ce.code)
		assert.Equal(t, "Invalid configuration: missing queue url", ce.Error())
	})

	t.Run("message only", func(t *testing.T) {
		err := exitError(2, "worker.command is required", nil)
		assert.Equal(t, "worker.command is required", err.Error())
	})

	t.Run("unwraps the cause", func(t *testing.T) {
		cause := errors.New("dial timeout")
		err := exitError(69, "Annotator loop failed", cause)
		assert.ErrorIs(t, err, cause)
	})
}
