// Command snapshotctl creates, clears and lists table snapshots of a
// tablesnap data directory, and runs the schema changes that trigger
// automatic snapshots.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
