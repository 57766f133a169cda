// Command claims-demo runs the services of the claims telemetry demo: the
// claim, finance and policy HTTP services and the background worker.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "claims-demo: %v\n", err)
		os.Exit(1)
	}
}
