// Command pluginkit manages automation plugins: submit a script and
// metadata for validation, install the resulting bundle atomically,
// activate it with the automation engine, and inspect or remove what
// is installed.
package main

import (
	"fmt"
	"os"
)

// Version information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
