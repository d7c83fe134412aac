// Command vigil supervises negotiation conversations: it routes a
// conversation snapshot to its department, runs the analysis pipeline and
// hands the decided tool request to the actuator.
package main

import (
	"fmt"
	"os"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
