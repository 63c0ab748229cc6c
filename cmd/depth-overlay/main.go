// Command depth-overlay annotates a live color/depth stream with distance
// readings and serves the result as a browser preview.
//
// Usage:
//
//	depth-overlay [--config config.yaml] [flags]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
