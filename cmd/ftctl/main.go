// Package main is the entry point for the ftctl CLI client.
package main

import (
	"github.com/donaldgifford/fleet-telemetry/cmd/ftctl/cmd"
)

func main() {
	cmd.Execute()
}
