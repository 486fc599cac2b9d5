// Package main is the entry point for the remediation engine.
// The engine turns incident signals into bounded, policy-driven cluster actions.
package main

import (
	"os"

	"github.com/kubeheal/remediator/cmd/engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
