package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/agent"
	"github.com/Iron-Ham/foreman/internal/config"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
)

var agentCwd string

var agentCmd = &cobra.Command{
	Use:   "agent [task]",
	Short: "Launch a single supervised agent and attach to it",
	Long: `Spawns one agent CLI under the supervisor, outside any orchestration.
The optional task text is delivered once the CLI is ready; the session's
output streams to this terminal and stdin is forwarded to the agent.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentCwd, "cwd", "", "working directory for the agent (default: current directory)")
	rootCmd.AddCommand(agentCmd)
}

// stdoutViewer adapts os.Stdout to the supervisor's viewer interface.
type stdoutViewer struct{ io.Writer }

func (stdoutViewer) Close() error { return nil }

func runAgent(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	cwd := agentCwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}
	if cwd, err = filepath.Abs(cwd); err != nil {
		return err
	}

	logDir := cfg.Logging.Dir
	if logDir != "" && !filepath.IsAbs(logDir) {
		logDir = filepath.Join(cwd, logDir)
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()

	sup := agent.NewSupervisor(agent.Config{
		Command:          cfg.Agent.Command,
		Args:             cfg.Agent.Args,
		OutputBufferSize: cfg.Agent.OutputBufferSize,
		RunningDelay:     cfg.Agent.RunningDelay,
		SettleDelay:      cfg.Agent.SettleDelay,
		SubmitDelay:      cfg.Agent.SubmitDelay,
		FallbackDelay:    cfg.Agent.FallbackDelay,
		StripEnvPrefixes: cfg.Agent.StripEnvPrefixes,
		Cols:             cfg.Agent.Cols,
		Rows:             cfg.Agent.Rows,
	}, event.NewBus(), logger)

	done := make(chan int, 1)
	sup.OnExit(func(id string, code int) {
		done <- code
	})

	id := "agent-" + uuid.NewString()
	if err := sup.Launch(id, "", task, cwd, agent.RoleManual); err != nil {
		return err
	}
	sup.Attach(id, stdoutViewer{os.Stdout})

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				sup.Write(id, buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	if code := <-done; code != 0 {
		return fmt.Errorf("agent exited with code %d", code)
	}
	return nil
}
