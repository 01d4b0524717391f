// Package panels builds the Grafana panels of the fleet-telemetry
// dashboard. Every query is scoped to the service's scrape job.
package panels

import (
	"strings"

	"github.com/grafana/grafana-foundation-sdk/go/cog"
	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/grafana/grafana-foundation-sdk/go/stat"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

// ProviderDailyLimit matches provider.rate_limit.daily_limit's default.
const ProviderDailyLimit = 50000

// Job is the Prometheus scrape job label for the service.
const Job = "fleet-telemetry"

// Grid sizes on Grafana's 24 column layout.
const (
	StatWidth  = 6
	StatHeight = 4

	TSWidth  = 12
	TSHeight = 8

	FullWidth = 24
)

// Datasource points panels at the dashboard's ${datasource} variable.
func Datasource() dashboard.DataSourceRef {
	return dashboard.DataSourceRef{
		Type: cog.ToPtr("prometheus"),
		Uid:  cog.ToPtr("${datasource}"),
	}
}

// Query is a Prometheus target.
func Query(expr, legend, refID string) *prometheus.DataqueryBuilder {
	return prometheus.NewDataqueryBuilder().
		Expr(expr).
		LegendFormat(legend).
		RefId(refID)
}

// Sel renders a selector scoped to the service job, e.g.
// Sel("fleet_readyz_up") is fleet_readyz_up{job="fleet-telemetry"}.
func Sel(metric string, matchers ...string) string {
	return metric + "{" + strings.Join(append([]string{`job="` + Job + `"`}, matchers...), ",") + "}"
}

// Step is one threshold boundary: values at or above At take Color.
type Step struct {
	At    float64
	Color string
}

// At is shorthand for a Step.
func At(value float64, color string) Step {
	return Step{At: value, Color: color}
}

// Steps builds absolute thresholds. base colors everything below the first
// step. Steps must be given in ascending order.
func Steps(base string, steps ...Step) cog.Builder[dashboard.ThresholdsConfig] {
	out := make([]dashboard.Threshold, 0, len(steps)+1)
	out = append(out, dashboard.Threshold{Color: base})
	for _, s := range steps {
		out = append(out, dashboard.Threshold{Value: cog.ToPtr(s.At), Color: s.Color})
	}
	return dashboard.NewThresholdsConfigBuilder().
		Mode(dashboard.ThresholdsModeAbsolute).
		Steps(out)
}

// ThresholdColors colors values by their threshold step.
func ThresholdColors() cog.Builder[dashboard.FieldColor] {
	return dashboard.NewFieldColorBuilder().Mode(dashboard.FieldColorModeIdThresholds)
}

// PaletteColors gives each series its own classic palette color.
func PaletteColors() cog.Builder[dashboard.FieldColor] {
	return dashboard.NewFieldColorBuilder().Mode(dashboard.FieldColorModeIdPaletteClassic)
}

// TimeSeries returns a line panel with the shared styling.
func TimeSeries(title, desc string, span uint32) *timeseries.PanelBuilder {
	return timeseries.NewPanelBuilder().
		Title(title).
		Description(desc).
		Datasource(Datasource()).
		Height(TSHeight).
		Span(span).
		FillOpacity(10).
		LineWidth(2).
		Tooltip(Tooltip()).
		ColorScheme(PaletteColors()).
		DrawStyle(common.GraphDrawStyleLine)
}

// Stat returns a single-value panel for expr colored by its thresholds.
func Stat(title, desc, expr string, span, height uint32) *stat.PanelBuilder {
	return stat.NewPanelBuilder().
		Title(title).
		Description(desc).
		Datasource(Datasource()).
		Height(height).
		Span(span).
		WithTarget(Query(expr, "", "A")).
		ColorScheme(ThresholdColors())
}

// Legend renders a table legend below the graph with the given reducers
// (mean, max, lastNotNull).
func Legend(calcs ...string) *common.VizLegendOptionsBuilder {
	return common.NewVizLegendOptionsBuilder().
		DisplayMode(common.LegendDisplayModeTable).
		Placement(common.LegendPlacementBottom).
		Calcs(calcs)
}

// Tooltip shows every series, largest first.
func Tooltip() *common.VizTooltipOptionsBuilder {
	return common.NewVizTooltipOptionsBuilder().
		Mode(common.TooltipDisplayModeMulti).
		Sort(common.SortOrderDescending)
}
