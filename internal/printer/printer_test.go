package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	var stdout, stderr bytes.Buffer
	restore := SetOutput(&stdout, &stderr)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})
	return &stdout, &stderr
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Equal(t, "Test Error\n\nThis is a test error\n", stderr.String())
	})

	t.Run("prints a single suggestion as is", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "\nTry this fix\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	context := map[string]string{
		"Instance": "test-instance",
		"Backend":  "redis",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, []string{"Fix it"})
	require.Error(t, err)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, stderr.String(), "  Backend: redis\n  Instance: test-instance\n")
}

func TestSuccessAndWarning(t *testing.T) {
	stdout, stderr := capture(t)

	Success("saved\n")
	Success("✓ already prefixed\n")
	Warning("careful\n")
	Printf("%d messages\n", 3)

	assert.Equal(t, "✓ saved\n✓ already prefixed\n3 messages\n", stdout.String())
	assert.Equal(t, "⚠️  careful\n", stderr.String())
}
