package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	apiclient "github.com/donaldgifford/fleet-telemetry/internal/api/client"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

// tabWriter wraps tabwriter with error tracking.
type tabWriter struct {
	*tabwriter.Writer
	err error
}

func newTabWriter(w io.Writer) *tabWriter {
	return &tabWriter{Writer: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (tw *tabWriter) writef(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.Writer, format, args...)
}

func (tw *tabWriter) finish() error {
	if tw.err != nil {
		return tw.err
	}
	return tw.Flush()
}

func printDevicesTable(w io.Writer, resp *apiclient.DevicesResponse) error {
	tw := newTabWriter(w)
	tw.writef("DEVICE\tVEHICLE\tDEALER\tSOC\tSOH\tLAST SEEN\n")
	for i := range resp.Devices {
		d := &resp.Devices[i]
		tw.writef("%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeviceID,
			str(d.VehicleNumber),
			str(d.DealerID),
			pct(d.SOC),
			pct(d.SOH),
			ts(d.LastSeen),
		)
	}
	tw.writef("\nShowing %d of %d (offset %d)\n", len(resp.Devices), resp.Total, resp.Offset)
	return tw.finish()
}

func printLatest(w io.Writer, l *apiclient.LatestResponse) error {
	tw := newTabWriter(w)
	tw.writef("Device:\t%s\n", l.DeviceID)
	if b := l.Battery; b != nil {
		tw.writef("Battery at:\t%s\n", b.Time.Format(timeLayout))
		tw.writef("SOC:\t%s\n", pct(b.SOC))
		tw.writef("SOH:\t%s\n", pct(b.SOH))
		tw.writef("Voltage:\t%s\n", num(b.Voltage, "V"))
		tw.writef("Current:\t%s\n", num(b.Current, "A"))
		tw.writef("Temperature:\t%s\n", num(b.Temperature, "°C"))
	} else {
		tw.writef("Battery:\t-\n")
	}
	if g := l.GPS; g != nil {
		tw.writef("GPS at:\t%s\n", g.Time.Format(timeLayout))
		tw.writef("Position:\t%s, %s\n", coord(g.Latitude), coord(g.Longitude))
	} else {
		tw.writef("GPS:\t-\n")
	}
	return tw.finish()
}

func printAlertsTable(w io.Writer, alerts []domain.BatteryAlert) error {
	tw := newTabWriter(w)
	tw.writef("ID\tDEVICE\tVEHICLE\tTYPE\tSEVERITY\tVALUE\tACK\tCREATED\n")
	for i := range alerts {
		a := &alerts[i]
		tw.writef("%s\t%s\t%s\t%s\t%s\t%.1f\t%v\t%s\n",
			a.ID,
			a.DeviceID,
			str(a.VehicleNumber),
			a.AlertType,
			a.Severity,
			a.ReadingValue,
			a.Acknowledged,
			a.CreatedAt.Format(timeLayout),
		)
	}
	return tw.finish()
}

func printAlertConfig(w io.Writer, cfg domain.AlertConfig) error {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := newTabWriter(w)
	tw.writef("KEY\tVALUE\tSEVERITY\tLABEL\n")
	for _, k := range keys {
		t := cfg[k]
		tw.writef("%s\t%g\t%s\t%s\n", k, t.Value, t.Severity, t.Label)
	}
	return tw.finish()
}

func printOverview(w io.Writer, o *domain.FleetOverview) error {
	tw := newTabWriter(w)
	tw.writef("Active batteries:\t%d\n", o.ActiveBatteries)
	tw.writef("Average SOH:\t%.1f%%\n", o.AvgSOH)
	tw.writef("Charging now:\t%d\n", o.ChargingNow)
	tw.writef("Active alerts:\t%d\n", o.ActiveAlerts)
	return tw.finish()
}

func printJobRunsTable(w io.Writer, runs []domain.JobRun) error {
	tw := newTabWriter(w)
	tw.writef("JOB\tSTATUS\tSTARTED\tCOMPLETED\tROWS\tERROR\n")
	for i := range runs {
		r := &runs[i]
		rows := "-"
		if r.RowsAffected != nil {
			rows = fmt.Sprintf("%d", *r.RowsAffected)
		}
		tw.writef("%s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobName,
			r.Status,
			r.StartedAt.Format(timeLayout),
			ts(r.CompletedAt),
			rows,
			truncate(r.ErrorText, 40),
		)
	}
	return tw.finish()
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func str(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func pct(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *f)
}

func num(f *float64, unit string) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *f, unit)
}

func coord(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f", *f)
}

func ts(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
