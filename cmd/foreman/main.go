// foreman orchestrates teams of CLI coding agents: a coordinator plans the
// work, workers execute tasks in parallel git worktrees, and a merger
// integrates their branches.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
