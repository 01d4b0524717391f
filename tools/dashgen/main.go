// Command dashgen generates the Grafana dashboard and Prometheus rule files
// for fleet-telemetry and validates every PromQL expression in them.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/dashboards"
	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/rules"
	"github.com/donaldgifford/fleet-telemetry/tools/dashgen/validate"
)

const generatedHeader = "# Code generated by tools/dashgen. DO NOT EDIT.\n"

// artifact is one generated file, relative to the output directory.
type artifact struct {
	path string
	data []byte
}

func main() {
	validateOnly := flag.Bool("validate", false, "validate generated artifacts without writing files")
	outputDir := flag.String("output", "", "override output directory")
	rulesFormat := flag.String("rules-format", RulesFormatOperator, "rule output: operator (PrometheusRule) or file (plain rule_files)")
	flag.Parse()

	cfg := DefaultConfig()
	cfg.RulesFormat = *rulesFormat
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := run(os.Stdout, cfg, *validateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, cfg Config, validateOnly bool) error {
	artifacts, err := build(out, cfg)
	if err != nil {
		return err
	}

	if validateOnly {
		fmt.Fprintln(out, "validation passed")
		return nil
	}

	for _, a := range artifacts {
		path := filepath.Join(cfg.OutputDir, a.path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, a.data, 0o644); err != nil { //nolint:gosec // generated manifests are world-readable
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

// build renders and validates every enabled artifact.
func build(out io.Writer, cfg Config) ([]artifact, error) {
	var artifacts []artifact
	var errs []error

	report := func(what string, res *validate.Result) {
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s: %s\n", what, w)
		}
		for _, e := range res.Errors {
			errs = append(errs, fmt.Errorf("%s: %s", what, e))
		}
	}

	if cfg.DashboardEnabled {
		dash, err := dashboards.BuildOverview().Build()
		if err != nil {
			return nil, fmt.Errorf("building overview dashboard: %w", err)
		}
		report("fleet-overview", validate.Dashboard(dash, KnownMetrics))

		data, err := json.MarshalIndent(dash, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding dashboard: %w", err)
		}
		artifacts = append(artifacts, artifact{
			path: filepath.Join("grafana", "data", "fleet-overview.json"),
			data: append(data, '\n'),
		})
	}

	if cfg.RulesEnabled {
		for name, cr := range map[string]rules.PrometheusRule{
			"fleet-recording-rules.yaml": rules.RecordingRules(),
			"fleet-alerts.yaml":          rules.AlertRules(),
		} {
			report(name, validate.Rules(cr, KnownMetrics))

			var doc any = cr
			if cfg.RulesFormat == RulesFormatFile {
				doc = cr.File()
			}
			data, err := yaml.Marshal(doc)
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", name, err)
			}
			artifacts = append(artifacts, artifact{
				path: filepath.Join("prometheus", name),
				data: append([]byte(generatedHeader), data...),
			})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return artifacts, nil
}
