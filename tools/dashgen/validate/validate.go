// Package validate checks generated dashboards and rules for PromQL syntax
// errors and references to metrics the service does not export.
package validate

import (
	"fmt"
	"sort"

	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/rules"
)

// Result collects problems found during validation. Errors fail generation;
// warnings are reported but do not.
type Result struct {
	Errors   []string
	Warnings []string
}

// Ok reports whether validation produced no errors.
func (r *Result) Ok() bool {
	return len(r.Errors) == 0
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Dashboard parses every Prometheus target in the dashboard and checks the
// selected metric names against known.
func Dashboard(dash dashboard.Dashboard, known map[string]bool) *Result {
	res := &Result{}

	var all []dashboard.Panel
	for i, p := range dash.Panels {
		switch {
		case p.RowPanel != nil:
			if len(p.RowPanel.Panels) == 0 {
				res.warnf("row %d has no panels", i)
			}
			all = append(all, p.RowPanel.Panels...)
		case p.Panel != nil:
			all = append(all, *p.Panel)
		}
	}

	for _, panel := range all {
		title := "<untitled>"
		if panel.Title != nil {
			title = *panel.Title
		}
		if len(panel.Targets) == 0 {
			res.warnf("panel %q has no targets", title)
		}
		for _, target := range panel.Targets {
			expr, ok := promExpr(target)
			if !ok {
				res.warnf("panel %q has a non-prometheus target", title)
				continue
			}
			checkExpr(res, "panel "+quote(title), expr, known)
		}
	}

	return res
}

// Rules parses every rule expression in the PrometheusRule, checks the
// selected metric names against known and checks group intervals and alert
// for durations parse as Prometheus durations.
func Rules(cr rules.PrometheusRule, known map[string]bool) *Result {
	res := &Result{}
	for _, g := range cr.Spec.Groups {
		checkDuration(res, "group "+quote(g.Name)+" interval", g.Interval)

		for _, rule := range g.Rules {
			name := rule.Name()
			switch {
			case name == "":
				res.errorf("group %q has a rule with neither record nor alert", g.Name)
				continue
			case rule.Record != "" && rule.Alert != "":
				res.errorf("rule %q sets both record and alert", name)
			}
			if rule.Alert != "" {
				if rule.Labels["severity"] == "" {
					res.errorf("alert %q has no severity label", rule.Alert)
				}
				checkDuration(res, "alert "+quote(rule.Alert)+" for", rule.For)
			}
			checkExpr(res, "rule "+quote(name), rule.Expr, known)
		}
	}
	return res
}

func checkDuration(res *Result, where, d string) {
	if d == "" {
		return
	}
	if _, err := model.ParseDuration(d); err != nil {
		res.errorf("%s: %v", where, err)
	}
}

func promExpr(target any) (string, bool) {
	switch q := target.(type) {
	case prometheus.Dataquery:
		return q.Expr, true
	case *prometheus.Dataquery:
		return q.Expr, true
	default:
		return "", false
	}
}

func checkExpr(res *Result, where, expr string, known map[string]bool) {
	if expr == "" {
		res.errorf("%s: empty expression", where)
		return
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		res.errorf("%s: parsing %q: %v", where, expr, err)
		return
	}

	for _, name := range metricNames(node) {
		if !known[name] {
			res.errorf("%s: unknown metric %q", where, name)
		}
	}
}

// metricNames returns the sorted distinct metric names selected by node.
func metricNames(node parser.Node) []string {
	seen := map[string]bool{}
	parser.Inspect(node, func(n parser.Node, _ []parser.Node) error {
		if vs, ok := n.(*parser.VectorSelector); ok && vs.Name != "" {
			seen[vs.Name] = true
		}
		return nil
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
