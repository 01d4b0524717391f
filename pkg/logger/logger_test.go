package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: " error ", want: slog.LevelError},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, logger.ParseLevel(tt.input))
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := logger.Component(logger.NewWithWriter(&buf, "info", "JSON"), "ingest")
	l.Info("batch stored", "inserted", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "batch stored", rec["msg"])
	assert.Equal(t, "ingest", rec[logger.ComponentKey])
	assert.InDelta(t, 3, rec["inserted"], 0)
	assert.Regexp(t, `Z$`, rec["time"])
	assert.NotContains(t, rec, "source")
}

func TestNewWithWriter_DebugAddsSource(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger.NewWithWriter(&buf, "debug", "json").Debug("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Contains(t, rec, "source")
}

func TestNewWithWriter_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger.NewWithWriter(&buf, "info", "text").Info("hello")

	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		level      string
		logFunc    func(*slog.Logger)
		wantOutput bool
	}{
		{name: "debug visible at debug", level: "debug", logFunc: func(l *slog.Logger) { l.Debug("x") }, wantOutput: true},
		{name: "debug hidden at info", level: "info", logFunc: func(l *slog.Logger) { l.Debug("x") }},
		{name: "info hidden at warning", level: "warning", logFunc: func(l *slog.Logger) { l.Info("x") }},
		{name: "error visible at warn", level: "warn", logFunc: func(l *slog.Logger) { l.Error("x") }, wantOutput: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			tt.logFunc(logger.NewWithWriter(&buf, tt.level, "text"))
			assert.Equal(t, tt.wantOutput, buf.Len() > 0)
		})
	}
}

func TestPrintf(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := logger.NewPrintf(logger.NewWithWriter(&buf, "warn", "json"))

	p.Debugf("dropped %d", 1)
	p.Warnf("retrying %s\n", "getgpshistory")
	p.Errorf("gave up after %d attempts", 3)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "WARN", first["level"])
	assert.Equal(t, "retrying getgpshistory", first["msg"])
	assert.Contains(t, string(lines[1]), "gave up after 3 attempts")
}
