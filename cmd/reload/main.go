// reload supervises a cluster of worker processes and restarts them when
// watched source files change.
package main

import (
	"os"

	"github.com/HerbHall/reload/cmd/reload/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
