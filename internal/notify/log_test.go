package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestLogNotifier_SendAlert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity  domain.Severity
		wantLevel string
	}{
		{severity: domain.SeverityCritical, wantLevel: "ERROR"},
		{severity: domain.SeverityWarning, wantLevel: "WARN"},
		{severity: domain.SeverityInfo, wantLevel: "INFO"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			n := NewLogNotifier(logger.NewWithWriter(&buf, "info", "json"))
			alert := testAlert(tt.severity)
			require.NoError(t, n.SendAlert(context.Background(), &alert))

			lines := logLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.wantLevel, lines[0]["level"])
			assert.Equal(t, "battery alert", lines[0]["msg"])
			assert.Equal(t, "D1", lines[0]["device_id"])
			assert.Equal(t, "KA-01-EV-1", lines[0]["vehicle_number"])
			assert.InDelta(t, 55, lines[0]["threshold"], 1e-9)
		})
	}
}

func TestLogNotifier_SendBatchAlert(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewLogNotifier(logger.NewWithWriter(&buf, "info", "json"))

	alerts := []AlertPayload{testAlert(domain.SeverityWarning), testAlert(domain.SeverityWarning)}
	require.NoError(t, n.SendBatchAlert(context.Background(), alerts, "2 alerts for device D1"))

	lines := logLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "battery alert batch", lines[0]["msg"])
	assert.InDelta(t, 2, lines[0]["count"], 1e-9)

	buf.Reset()
	require.NoError(t, n.SendBatchAlert(context.Background(), nil, "empty"))
	assert.Zero(t, buf.Len())
}
