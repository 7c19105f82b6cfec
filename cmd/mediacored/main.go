// Command mediacored runs the HLS Segment Orchestrator and MPEG-TS
// Demultiplexer & Indexer as a long-running daemon with an
// introspection HTTP surface.
package main

import (
	"os"

	"github.com/mediacore/mediacore/cmd/mediacored/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
