// Package dashboards assembles Grafana dashboards from the panel builders.
package dashboards

import (
	"github.com/grafana/grafana-foundation-sdk/go/cog"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"

	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/panels"
)

// OverviewUID is the stable dashboard UID; links and provisioning use it.
const OverviewUID = "fleet-overview"

type section struct {
	title  string
	panels []cog.Builder[dashboard.Panel]
}

// overviewSections lists the rows top to bottom. Service health comes
// first, then the data path from ingestion to alert delivery.
func overviewSections() []section {
	return []section{
		{"Overview", []cog.Builder[dashboard.Panel]{
			panels.HealthzStat(), panels.ReadyzStat(), panels.ProviderQuotaGauge(), panels.UptimeStat(),
		}},
		{"HTTP", []cog.Builder[dashboard.Panel]{
			panels.RequestRate(), panels.LatencyPercentiles(), panels.ErrorRate(),
		}},
		{"Ingestion", []cog.Builder[dashboard.Panel]{
			panels.ReadingsRate(), panels.RejectedRatio(), panels.StoreFailures(),
		}},
		{"Telematics Provider", []cog.Builder[dashboard.Panel]{
			panels.PollDuration(), panels.ProviderCalls(), panels.ProviderDailyUsage(),
		}},
		{"Battery Alerts", []cog.Builder[dashboard.Panel]{
			panels.AlertsCreated(), panels.NotificationFailures(),
		}},
		{"Scheduler", []cog.Builder[dashboard.Panel]{
			panels.JobRuns(), panels.AggregateRefresh(),
		}},
		{"Push & Cache", []cog.Builder[dashboard.Panel]{
			panels.MQTTMessages(), panels.CacheHitRatio(),
		}},
	}
}

// BuildOverview returns the Fleet Telemetry Overview dashboard.
func BuildOverview() *dashboard.DashboardBuilder {
	b := dashboard.NewDashboardBuilder("Fleet Telemetry Overview").
		Uid(OverviewUID).
		Tags([]string{"fleet", "fleet-telemetry"}).
		Refresh("30s").
		Time("now-6h", "now").
		Timezone("utc").
		Editable().
		Tooltip(dashboard.DashboardCursorSyncCrosshair).
		WithVariable(dashboard.NewDatasourceVariableBuilder("datasource").
			Label("Datasource").
			Type("prometheus"))

	for _, s := range overviewSections() {
		row := dashboard.NewRowBuilder(s.title)
		for _, p := range s.panels {
			row.WithPanel(p)
		}
		b.WithRow(row)
	}
	return b
}
