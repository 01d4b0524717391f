package validate

import (
	"testing"

	"github.com/prometheus/prometheus/promql/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/rules"
)

func TestMetricNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{name: "bare selector", expr: `fleet_readyz_up`, want: []string{"fleet_readyz_up"}},
		{
			name: "ratio of recording rules",
			expr: `fleet:http_errors:rate5m / fleet:http_requests:rate5m`,
			want: []string{"fleet:http_errors:rate5m", "fleet:http_requests:rate5m"},
		},
		{
			name: "histogram quantile",
			expr: `histogram_quantile(0.95, sum(rate(fleet_poll_duration_seconds_bucket{job="fleet-telemetry"}[1h])) by (le))`,
			want: []string{"fleet_poll_duration_seconds_bucket"},
		},
		{name: "duplicates collapse", expr: `a + a`, want: []string{"a"}},
		{name: "function only", expr: `time()`, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			node, err := parser.ParseExpr(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, metricNames(node))
		})
	}
}

func TestRules(t *testing.T) {
	t.Parallel()

	known := map[string]bool{"fleet_readyz_up": true}

	tests := []struct {
		name       string
		rule       rules.Rule
		wantErrors int
	}{
		{
			name: "valid alert",
			rule: rules.Rule{Alert: "Down", Expr: "fleet_readyz_up == 0", Labels: map[string]string{"severity": "critical"}},
		},
		{
			name:       "missing severity",
			rule:       rules.Rule{Alert: "Down", Expr: "fleet_readyz_up == 0"},
			wantErrors: 1,
		},
		{
			name:       "unknown metric",
			rule:       rules.Rule{Record: "x:y", Expr: "rate(fleet_nope_total[5m])"},
			wantErrors: 1,
		},
		{
			name:       "syntax error",
			rule:       rules.Rule{Record: "x:y", Expr: "rate(fleet_readyz_up[5m]"},
			wantErrors: 1,
		},
		{
			name:       "anonymous rule",
			rule:       rules.Rule{Expr: "fleet_readyz_up"},
			wantErrors: 1,
		},
		{
			name: "record and alert",
			rule: rules.Rule{
				Record: "x:y", Alert: "Down", Expr: "fleet_readyz_up",
				Labels: map[string]string{"severity": "warning"},
			},
			wantErrors: 1,
		},
		{
			name: "bad for duration",
			rule: rules.Rule{
				Alert: "Down", Expr: "fleet_readyz_up == 0", For: "5 minutes",
				Labels: map[string]string{"severity": "critical"},
			},
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cr := rules.PrometheusRule{Spec: rules.Spec{
				Groups: []rules.Group{{Name: "g", Rules: []rules.Rule{tt.rule}}},
			}}
			res := Rules(cr, known)
			assert.Len(t, res.Errors, tt.wantErrors, "errors: %v", res.Errors)
			assert.Equal(t, tt.wantErrors == 0, res.Ok())
		})
	}
}

func TestRules_GroupInterval(t *testing.T) {
	t.Parallel()

	cr := rules.PrometheusRule{Spec: rules.Spec{Groups: []rules.Group{
		{Name: "ok", Interval: "30s"},
		{Name: "bad", Interval: "half a minute"},
	}}}
	res := Rules(cr, nil)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `group "bad" interval`)
}
