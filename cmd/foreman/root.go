package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Multi-agent orchestration for CLI coding agents",
	Long: `foreman drives autonomous coding sessions: it spawns a planning
coordinator, turns its plan into dependency-ordered tasks, runs worker
agents in parallel git worktrees, and merges their branches as they
complete.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: foreman.yaml in . or ~/.config/foreman)")
}
