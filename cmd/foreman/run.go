package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	osignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/foreman/internal/agent"
	"github.com/Iron-Ham/foreman/internal/config"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/orchestrator"
	"github.com/Iron-Ham/foreman/internal/worktree"
)

var (
	runCwd         string
	runName        string
	runMaxWorkers  int
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Run an orchestration in a repository",
	Long: `Starts an orchestration: a coordinator agent decomposes the given
objective into tasks, the plan is presented for approval, and worker agents
then execute it in parallel worktrees while a merger integrates their
branches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrchestration,
}

func init() {
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "repository to orchestrate (default: current directory)")
	runCmd.Flags().StringVar(&runName, "name", "", "project name (default: repository directory name)")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "override orchestration.max_concurrent_workers")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "execute the plan without asking for approval")
	rootCmd.AddCommand(runCmd)
}

func runOrchestration(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cwd := runCwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}
	if cwd, err = filepath.Abs(cwd); err != nil {
		return err
	}
	name := runName
	if name == "" {
		name = filepath.Base(cwd)
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

	bus := event.NewBus()
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
	}, bus, logger)
	wt := worktree.NewManager(cfg.Worktree.BranchPrefix, logger)
	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrentWorkers: cfg.Orchestration.MaxConcurrentWorkers,
		MarkerBufferSize:     cfg.Orchestration.MarkerBufferSize,
	}, bus, wt, sup, logger)

	sup.OnOutput(orch.FeedAgentOutput)
	sup.OnExit(orch.HandleAgentExit)

	bus.Subscribe(event.TypeAgentLaunchRequest, func(e event.Event) {
		req := e.(event.AgentLaunchRequestEvent)
		if err := sup.Launch(req.ID, req.ProjectID, req.Task, req.Cwd, agent.Role(req.Role)); err != nil {
			logger.WithAgent(req.ID).Error("agent launch failed", "error", err)
			fmt.Fprintf(os.Stderr, "failed to launch %s agent: %v\n", req.Role, err)
		}
	})

	// Handlers run while the orchestrator holds its lock; anything that
	// calls back into it (approval) must happen from this goroutine, so
	// plan-ready and terminal phases are relayed over channels.
	planCh := make(chan event.PlanReadyEvent, 1)
	doneCh := make(chan string, 1)

	bus.Subscribe(event.TypePlanReady, func(e event.Event) {
		select {
		case planCh <- e.(event.PlanReadyEvent):
		default:
		}
	})
	bus.Subscribe(event.TypePhaseChanged, func(e event.Event) {
		pe := e.(event.PhaseChangedEvent)
		fmt.Printf("[%s] phase: %s\n", pe.ProjectID, pe.Phase)
		if pe.Phase == string(orchestrator.PhaseCompleted) || pe.Phase == string(orchestrator.PhaseError) {
			select {
			case doneCh <- pe.Phase:
			default:
			}
		}
	})
	bus.Subscribe(event.TypeWorkerSpawned, func(e event.Event) {
		we := e.(event.WorkerSpawnedEvent)
		fmt.Printf("  worker %s started on %s (%s)\n", we.AgentID, we.TaskID, we.Branch)
	})
	bus.Subscribe(event.TypeTaskStatusChanged, func(e event.Event) {
		te := e.(event.TaskStatusChangedEvent)
		fmt.Printf("  %s -> %s\n", te.TaskID, te.Status)
	})
	bus.Subscribe(event.TypeMergeResult, func(e event.Event) {
		me := e.(event.MergeResultEvent)
		if me.Success {
			fmt.Printf("  merged %s\n", me.Branch)
		} else {
			fmt.Printf("  merge of %s failed: %s\n", me.Branch, me.Message)
		}
	})

	projectID := uuid.NewString()
	if err := orch.Start(projectID, name, description, cwd, runMaxWorkers); err != nil {
		return err
	}
	pw, err := orch.WatchPlanFile(projectID)
	if err != nil {
		logger.Warn("plan file watcher unavailable", "error", err)
	} else {
		defer pw.Close()
	}

	sigCh := make(chan os.Signal, 1)
	osignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer osignal.Stop(sigCh)

	for {
		select {
		case pr := <-planCh:
			printPlan(pr)
			if !runAutoApprove && !confirm(cmd.InOrStdin()) {
				orch.Abort(projectID)
				return fmt.Errorf("plan rejected")
			}
			if err := orch.ApprovePlan(pr.ProjectID); err != nil {
				return err
			}
		case phase := <-doneCh:
			if phase == string(orchestrator.PhaseError) {
				return fmt.Errorf("orchestration ended in error; see %s", filepath.Join(logDir, "foreman.log"))
			}
			fmt.Println("orchestration completed")
			return nil
		case <-sigCh:
			fmt.Println("\naborting orchestration")
			orch.Abort(projectID)
			return fmt.Errorf("orchestration aborted")
		}
	}
}

func printPlan(pr event.PlanReadyEvent) {
	fmt.Printf("\nProposed plan (%d tasks):\n", len(pr.Tasks))
	for _, t := range pr.Tasks {
		line := fmt.Sprintf("  %d. %s", t.Order, t.Title)
		if len(t.Dependencies) > 0 {
			line += fmt.Sprintf(" (after %s)", strings.Join(t.Dependencies, ", "))
		}
		fmt.Println(line)
		if t.Description != "" {
			fmt.Printf("     %s\n", t.Description)
		}
	}
}

func confirm(in io.Reader) bool {
	fmt.Print("\nApprove plan? [y/N]: ")
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
