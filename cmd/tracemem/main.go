// Command tracemem ingests conversations into layered memory, builds
// speaker cards and answers questions from them.
package main

import (
	"fmt"
	"os"

	"github.com/YimingShu-teay/TraceMem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
