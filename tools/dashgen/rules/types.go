// Package rules builds the Prometheus recording and alerting rules for
// fleet-telemetry. Rules render either as a Prometheus Operator
// PrometheusRule resource or as a plain rule file for a standalone server.
package rules

const (
	operatorAPIVersion = "monitoring.coreos.com/v1"
	operatorKind       = "PrometheusRule"

	// ruleSelectorLabel must match the ruleSelector of the Prometheus that
	// should load the resource.
	ruleSelectorLabel = "prometheus"
	ruleSelectorValue = "system-rules-prometheus"
)

// PrometheusRule is the Prometheus Operator custom resource.
type PrometheusRule struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       Spec       `yaml:"spec"`
}

// ObjectMeta is the subset of Kubernetes object metadata the rules set.
type ObjectMeta struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// Spec holds the rule groups of a PrometheusRule.
type Spec struct {
	Groups []Group `yaml:"groups"`
}

// Group is evaluated as a unit at Interval, or the global interval if empty.
type Group struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval,omitempty"`
	Rules    []Rule `yaml:"rules"`
}

// Rule sets exactly one of Record or Alert.
type Rule struct {
	Record      string            `yaml:"record,omitempty"`
	Alert       string            `yaml:"alert,omitempty"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// Name returns the record or alert name.
func (r Rule) Name() string {
	if r.Record != "" {
		return r.Record
	}
	return r.Alert
}

// File is the format read by prometheus --config.file rule_files.
type File struct {
	Groups []Group `yaml:"groups"`
}

func newResource(name string, groups ...Group) PrometheusRule {
	return PrometheusRule{
		APIVersion: operatorAPIVersion,
		Kind:       operatorKind,
		Metadata: ObjectMeta{
			Name:   name,
			Labels: map[string]string{ruleSelectorLabel: ruleSelectorValue},
		},
		Spec: Spec{Groups: groups},
	}
}

// File strips the resource envelope.
func (p PrometheusRule) File() File {
	return File{Groups: p.Spec.Groups}
}
