package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("WARN", "text")
	logger.SetOutput(&buf)

	logger.Info("should not appear", nil)
	logger.Warn("should appear", nil)

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestStructuredLogger_WithComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("INFO", "json")
	logger.SetOutput(&buf)

	scoped := logger.WithComponent("orchestration/engine")
	scoped.Info("hello", map[string]interface{}{"incident_id": "inc-1"})

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"orchestration/engine"`))
	assert.True(t, strings.Contains(out, `"incident_id":"inc-1"`))
}

func TestStructuredLogger_ErrorRateLimited(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("ERROR", "text")
	logger.SetOutput(&buf)

	logger.Error("first", nil)
	logger.Error("second", nil)

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 1, lines)
}
