package mqttclient

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	for name, want := range map[string]LogLevel{
		"debug": LogLevelDebug,
		"INFO":  LogLevelInfo,
		"warn":  LogLevelWarn,
		"error": LogLevelError,
		"off":   LogLevelNone,
	} {
		got, ok := ParseLogLevel(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	level, ok := ParseLogLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LogLevelInfo, level)

	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestStdLogger(t *testing.T) {
	t.Run("level filter", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewStdLogger(&buf, LogLevelInfo)

		l.Debug("hidden", nil)
		l.Info("connected", LogFields{LogFieldServer: "tcp://broker:1883"})
		l.Error("failed", nil)

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "[INFO] connected map[server:tcp://broker:1883]")
		assert.Contains(t, out, "[ERROR] failed\n")
	})

	t.Run("with fields", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewStdLogger(&buf, LogLevelDebug)
		child := parent.WithFields(LogFields{LogFieldClientID: "c1"})

		child.Warn("slow", LogFields{LogFieldPacketID: 7})
		assert.Contains(t, buf.String(), "[WARN] slow map[client_id:c1 packet_id:7]")

		buf.Reset()
		parent.Warn("plain", nil)
		assert.NotContains(t, buf.String(), "client_id")
	})

	t.Run("level shared with children", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewStdLogger(&buf, LogLevelDebug)
		child := parent.WithFields(LogFields{"k": "v"})

		parent.SetLevel(LogLevelError)
		assert.Equal(t, LogLevelError, child.Level())

		child.Warn("dropped", nil)
		assert.Empty(t, buf.String())
	})
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := NewSlogLogger(handler, LogLevelDebug)

	l.WithFields(LogFields{LogFieldClientID: "c1"}).Info("connected", LogFields{LogFieldQoS: 1})
	l.Error("failed", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "c1", entry[LogFieldClientID])
	assert.Equal(t, 1.0, entry[LogFieldQoS])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "ERROR", entry["level"])

	buf.Reset()
	l.SetLevel(LogLevelWarn)
	l.Info("dropped", nil)
	assert.Empty(t, buf.String())
	assert.Equal(t, LogLevelWarn, l.Level())
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	assert.Same(t, l, l.WithFields(LogFields{"a": 1}))
	assert.Equal(t, LogLevelNone, l.Level())
	l.Error("nothing", nil)
}
