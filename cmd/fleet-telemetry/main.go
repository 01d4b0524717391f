// Package main is the entry point for the fleet-telemetry service.
package main

import (
	"os"

	"github.com/donaldgifford/fleet-telemetry/cmd/fleet-telemetry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
