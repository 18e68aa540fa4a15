// Package orchestrator drives multi-agent orchestrations: it spawns a
// planning coordinator per project, materializes its free-text plan into
// dependency-ordered tasks, and after human approval schedules worker agents
// in isolated worktrees under a concurrency cap while a resident merger
// integrates completed branches.
//
// The orchestrator never spawns processes itself: it publishes
// AgentLaunchRequestEvent and the host forwards it to the agent supervisor.
// Raw agent output and process exits flow back in through FeedAgentOutput
// and HandleAgentExit.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/foreman/internal/agent"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/prompt"
	"github.com/Iron-Ham/foreman/internal/signal"
	"github.com/Iron-Ham/foreman/internal/worktree"
)

// WorktreeProvider provisions and removes branch-scoped checkouts.
// *worktree.Manager is the production implementation.
type WorktreeProvider interface {
	EnsureGitRepo(path string) bool
	CreateWorktree(repoPath, agentID string) (worktree.Worktree, error)
	RemoveWorktree(agentID, repoPath string)
	CleanupAll(repoPath string)
}

// AgentController is the slice of the supervisor the orchestrator drives
// directly: synthesized input for the merger and teardown. Launches go
// through the event bus instead.
type AgentController interface {
	Write(id string, data []byte)
	Kill(id string)
}

// Config holds orchestrator tunables.
type Config struct {
	// MaxConcurrentWorkers caps simultaneously live worker agents per project.
	MaxConcurrentWorkers int
	// MarkerBufferSize bounds each agent's accumulated output retained for
	// marker detection, in bytes. On overflow the oldest bytes are dropped.
	MarkerBufferSize int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkers: 3,
		MarkerBufferSize:     128 * 1024,
	}
}

// submitKey confirms synthesized input, mirroring how a human would press
// enter after a pasted instruction.
const submitKey = "\r"

// unresolvedTaskID labels merge results whose branch matches no known task.
const unresolvedTaskID = "unresolved"

// Orchestrator owns all orchestration state. A single coarse mutex guards
// it: every entry point locks, mutates, publishes, and unlocks, so handlers
// observe each transition fully applied.
type Orchestrator struct {
	mu        sync.Mutex
	cfg       Config
	logger    *logging.Logger
	bus       *event.Bus
	worktrees WorktreeProvider
	agents    AgentController
	prompts   *prompt.Builder

	projects map[string]*Project
	// agentIndex maps every owned agent id to its project id, so output and
	// exit callbacks resolve their project in one lookup.
	agentIndex map[string]string
	// buffers accumulates per-agent output for marker scanning, capped at
	// cfg.MarkerBufferSize with the most recent bytes retained.
	buffers map[string][]byte

	newID func() string
}

// New creates an Orchestrator.
func New(cfg Config, bus *event.Bus, worktrees WorktreeProvider, agents AgentController, logger *logging.Logger) *Orchestrator {
	if cfg.MaxConcurrentWorkers <= 0 {
		cfg.MaxConcurrentWorkers = DefaultConfig().MaxConcurrentWorkers
	}
	if cfg.MarkerBufferSize <= 0 {
		cfg.MarkerBufferSize = DefaultConfig().MarkerBufferSize
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		worktrees:  worktrees,
		agents:     agents,
		prompts:    prompt.NewBuilder(),
		projects:   make(map[string]*Project),
		agentIndex: make(map[string]string),
		buffers:    make(map[string][]byte),
		newID: func() string {
			return "agent-" + uuid.NewString()
		},
	}
}

// Start begins an orchestration for the project: it verifies the working
// directory is (or can become) a git repository, records the project in the
// initializing phase, requests a coordinator launch, and advances to
// planning. maxWorkers overrides the configured concurrency cap when
// positive. It fails if the project already has an active orchestration.
func (o *Orchestrator) Start(projectID, name, description, cwd string, maxWorkers int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.projects[projectID]; ok {
		return fmt.Errorf("project %s already has an active orchestration", projectID)
	}
	if !o.worktrees.EnsureGitRepo(cwd) {
		return fmt.Errorf("%s is not a usable git repository", cwd)
	}
	if maxWorkers <= 0 {
		maxWorkers = o.cfg.MaxConcurrentWorkers
	}

	proj := &Project{
		ID:                   projectID,
		Name:                 name,
		Description:          description,
		Cwd:                  cwd,
		Phase:                PhaseInitializing,
		Workers:              make(map[string]string),
		MaxConcurrentWorkers: maxWorkers,
		StartedAt:            time.Now(),
	}
	o.projects[projectID] = proj
	o.bus.Publish(event.NewPhaseChangedEvent(projectID, string(PhaseInitializing)))

	coordID := o.newID()
	proj.CoordinatorID = coordID
	o.agentIndex[coordID] = projectID

	text := o.prompts.BuildCoordinatorPrompt(prompt.Meta{Name: name, Description: description})
	o.bus.Publish(event.NewAgentLaunchRequestEvent(
		coordID, projectID, text, cwd, string(agent.RoleCoordinator), "", ""))

	o.setPhase(proj, PhasePlanning)
	o.logger.WithProject(projectID).Info("orchestration started",
		"coordinator_id", coordID, "cwd", cwd)
	return nil
}

// FeedAgentOutput accumulates a raw output chunk for the agent and scans the
// retained buffer for role-specific markers. Output from agents the
// orchestrator does not own is ignored.
func (o *Orchestrator) FeedAgentOutput(agentID string, chunk []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()

	projectID, ok := o.agentIndex[agentID]
	if !ok {
		return
	}
	proj := o.projects[projectID]
	if proj == nil {
		return
	}

	o.buffers[agentID] = appendCapped(o.buffers[agentID], chunk, o.cfg.MarkerBufferSize)
	buf := string(o.buffers[agentID])

	switch agentID {
	case proj.CoordinatorID:
		// Plans are only honored while planning; coordinator chatter after
		// the plan was materialized is not re-parsed.
		if proj.Phase != PhasePlanning {
			return
		}
		if tasks := signal.ParsePlan(buf); tasks != nil {
			o.materializePlan(proj, tasks)
		}
	case proj.MergerID:
		if res := signal.DetectMergeResult(buf); res != nil {
			// Reset before handling so each report is consumed exactly once.
			o.buffers[agentID] = nil
			o.handleMergeResult(proj, res)
		}
	default:
		if signal.DetectTaskComplete(buf) {
			o.completeTaskForAgent(proj, agentID)
		}
	}
}

// HandleAgentExit records the natural exit of an owned agent process.
func (o *Orchestrator) HandleAgentExit(agentID string, exitCode int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	projectID, ok := o.agentIndex[agentID]
	if !ok {
		return
	}
	proj := o.projects[projectID]
	delete(o.agentIndex, agentID)
	delete(o.buffers, agentID)
	if proj == nil {
		return
	}

	log := o.logger.WithProject(projectID).WithAgent(agentID)

	switch agentID {
	case proj.CoordinatorID:
		if proj.Phase == PhasePlanning && !proj.planProduced {
			log.Error("coordinator exited without producing a plan", "exit_code", exitCode)
			o.setPhase(proj, PhaseError)
			return
		}
		log.Info("coordinator exited", "exit_code", exitCode)

	case proj.MergerID:
		// A merger dying mid-run leaves completed branches unintegrated;
		// subsequent completions skip the merge instruction.
		log.Warn("merger exited", "exit_code", exitCode)
		proj.MergerID = ""

	default:
		task := proj.taskByAgent(agentID)
		delete(proj.Workers, agentID)
		o.worktrees.RemoveWorktree(agentID, proj.Cwd)

		if task != nil {
			switch {
			case task.Status == TaskCompleted || task.Status == TaskFailed:
				// Already settled by a marker or merge failure.
			case exitCode == 0:
				// A clean exit without the sentinel counts as an implicit
				// completion.
				log.Info("worker exited cleanly, completing task", "task_id", task.ID)
				o.completeTask(proj, task)
			default:
				log.Error("worker failed", "task_id", task.ID, "exit_code", exitCode)
				task.Status = TaskFailed
				o.publishTaskStatus(proj, task)
			}
		}

		o.spawnNextWorkers(proj)
		o.checkCompletion(proj)
	}
}

// ApprovePlan moves a reviewed project into execution: it launches the
// resident merger and fills the initial worker slots.
func (o *Orchestrator) ApprovePlan(projectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	proj, ok := o.projects[projectID]
	if !ok {
		return fmt.Errorf("no active orchestration for project %s", projectID)
	}
	if proj.Phase != PhaseReviewing {
		return fmt.Errorf("project %s is in phase %s, not awaiting approval", projectID, proj.Phase)
	}

	o.setPhase(proj, PhaseExecuting)

	mergerID := o.newID()
	proj.MergerID = mergerID
	o.agentIndex[mergerID] = projectID
	text := o.prompts.BuildMergerPrompt(prompt.Meta{Name: proj.Name, Description: proj.Description})
	o.bus.Publish(event.NewAgentLaunchRequestEvent(
		mergerID, projectID, text, proj.Cwd, string(agent.RoleMerger), "", ""))

	o.spawnNextWorkers(proj)
	// A pass can settle tasks without spawning anything (every ready task
	// failing provisioning), and then no exit or merge event will ever
	// arrive to run the completion check.
	o.checkCompletion(proj)
	return nil
}

// Abort tears the orchestration down: every owned agent is killed, all
// worktrees are cleaned up, the project enters the error phase, and its
// record is deleted.
func (o *Orchestrator) Abort(projectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	proj, ok := o.projects[projectID]
	if !ok {
		return fmt.Errorf("no active orchestration for project %s", projectID)
	}

	ids := make([]string, 0, len(proj.Workers)+2)
	if proj.CoordinatorID != "" {
		ids = append(ids, proj.CoordinatorID)
	}
	if proj.MergerID != "" {
		ids = append(ids, proj.MergerID)
	}
	for id := range proj.Workers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		o.agents.Kill(id)
		delete(o.agentIndex, id)
		delete(o.buffers, id)
	}

	o.worktrees.CleanupAll(proj.Cwd)
	o.setPhase(proj, PhaseError)
	delete(o.projects, projectID)

	o.logger.WithProject(projectID).Info("orchestration aborted", "agents_killed", len(ids))
	return nil
}

// Snapshot returns a copy of the project record, safe to read without the
// orchestrator's lock. The second return is false for unknown projects.
func (o *Orchestrator) Snapshot(projectID string) (Project, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	proj, ok := o.projects[projectID]
	if !ok {
		return Project{}, false
	}

	cp := *proj
	cp.Workers = make(map[string]string, len(proj.Workers))
	for k, v := range proj.Workers {
		cp.Workers[k] = v
	}
	cp.Plan = make([]*PlanTask, len(proj.Plan))
	for i, t := range proj.Plan {
		tc := *t
		tc.Dependencies = append([]string(nil), t.Dependencies...)
		cp.Plan[i] = &tc
	}
	return cp, true
}

// materializePlan turns a parsed plan into task records: ids are assigned by
// declared order ("task-1", "task-2", ...) and 1-based dependency ordinals
// are rewritten to those ids. The project then awaits approval.
func (o *Orchestrator) materializePlan(proj *Project, parsed []signal.PlanTask) {
	tasks := make([]*PlanTask, len(parsed))
	for i, pt := range parsed {
		t := &PlanTask{
			ID:          fmt.Sprintf("task-%d", i+1),
			Title:       pt.Title,
			Description: pt.Description,
			Status:      TaskPending,
			Order:       i + 1,
		}
		for _, ord := range pt.Dependencies {
			if ord < 1 || ord > len(parsed) {
				o.logger.WithProject(proj.ID).Warn("dropping out-of-range dependency",
					"task_id", t.ID, "ordinal", ord)
				continue
			}
			t.Dependencies = append(t.Dependencies, fmt.Sprintf("task-%d", ord))
		}
		tasks[i] = t
	}

	proj.Plan = tasks
	proj.planProduced = true

	infos := make([]event.TaskInfo, len(tasks))
	for i, t := range tasks {
		infos[i] = event.TaskInfo{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			Status:       string(t.Status),
			Order:        t.Order,
			Dependencies: append([]string(nil), t.Dependencies...),
		}
	}

	o.setPhase(proj, PhaseReviewing)
	o.bus.Publish(event.NewPlanReadyEvent(proj.ID, infos))
	o.logger.WithProject(proj.ID).Info("plan materialized", "tasks", len(tasks))
}

// completeTaskForAgent handles a worker's completion sentinel. The sentinel
// stays in the retained buffer, so this fires on every subsequent chunk;
// settled tasks make it a no-op, keeping completion idempotent.
func (o *Orchestrator) completeTaskForAgent(proj *Project, agentID string) {
	task := proj.taskByAgent(agentID)
	if task == nil || task.Status == TaskCompleted || task.Status == TaskFailed {
		return
	}
	o.completeTask(proj, task)
	o.spawnNextWorkers(proj)
}

// completeTask marks the task completed and hands its branch to the merger
// as synthesized terminal input.
func (o *Orchestrator) completeTask(proj *Project, task *PlanTask) {
	task.Status = TaskCompleted
	o.publishTaskStatus(proj, task)

	if proj.MergerID != "" && task.Branch != "" {
		instruction := o.prompts.BuildMergeInstruction(task.Branch, task.Title)
		o.agents.Write(proj.MergerID, []byte(instruction))
		o.agents.Write(proj.MergerID, []byte(submitKey))
	}
}

// handleMergeResult settles a merger report. A failed merge reverts the
// owning task to failed; a branch no task owns is reported as unresolved.
func (o *Orchestrator) handleMergeResult(proj *Project, res *signal.MergeResult) {
	task := proj.taskByBranch(res.Branch)
	taskID := unresolvedTaskID
	if task != nil {
		taskID = task.ID
	}

	log := o.logger.WithProject(proj.ID)
	if res.Success {
		log.Info("merge succeeded", "branch", res.Branch, "task_id", taskID)
	} else {
		log.Error("merge failed", "branch", res.Branch, "task_id", taskID, "details", res.Details)
		if task != nil && task.Status != TaskFailed {
			task.Status = TaskFailed
			o.publishTaskStatus(proj, task)
		}
	}

	o.bus.Publish(event.NewMergeResultEvent(proj.ID, res.Branch, taskID, res.Success, res.Details))
	o.checkCompletion(proj)
}

// spawnNextWorkers fills open worker slots with ready tasks in plan order.
// A task is ready when it is pending and all of its dependencies completed.
func (o *Orchestrator) spawnNextWorkers(proj *Project) {
	if proj.Phase != PhaseExecuting {
		return
	}

	slots := proj.MaxConcurrentWorkers - len(proj.Workers)
	for _, task := range proj.Plan {
		if slots <= 0 {
			return
		}
		if !proj.isReady(task) {
			continue
		}
		if o.assignTask(proj, task) {
			slots--
		}
	}
}

// assignTask provisions a worktree for the task and requests a worker
// launch. A provisioning failure fails only this task; the rest of the plan
// continues. Returns whether a worker slot was consumed.
func (o *Orchestrator) assignTask(proj *Project, task *PlanTask) bool {
	agentID := o.newID()
	meta := prompt.Meta{Name: proj.Name, Description: proj.Description}

	// Rendered before the branch exists so a provisioning failure still has
	// the prompt on record; re-rendered below with the branch baked in.
	text := o.prompts.BuildWorkerPrompt(meta, task.Title, task.Description, "")

	wt, err := o.worktrees.CreateWorktree(proj.Cwd, agentID)
	if err != nil {
		o.logger.WithProject(proj.ID).Error("worktree provisioning failed",
			"task_id", task.ID, "error", err)
		task.Status = TaskFailed
		o.publishTaskStatus(proj, task)
		return false
	}
	text = o.prompts.BuildWorkerPrompt(meta, task.Title, task.Description, wt.Branch)

	task.Status = TaskAssigned
	task.AssignedAgent = agentID
	task.Branch = wt.Branch
	o.publishTaskStatus(proj, task)

	proj.Workers[agentID] = task.ID
	o.agentIndex[agentID] = proj.ID

	task.Status = TaskInProgress
	o.publishTaskStatus(proj, task)

	o.bus.Publish(event.NewAgentLaunchRequestEvent(
		agentID, proj.ID, text, wt.Path, string(agent.RoleWorker), task.ID, wt.Branch))
	o.bus.Publish(event.NewWorkerSpawnedEvent(proj.ID, agentID, task.ID, wt.Branch))

	o.logger.WithProject(proj.ID).WithAgent(agentID).Info("worker spawned",
		"task_id", task.ID, "branch", wt.Branch)
	return true
}

// checkCompletion settles the project when no task remains runnable. All
// tasks completed ends the orchestration; failed tasks with no live workers
// leave the project executing so an operator can inspect and abort.
func (o *Orchestrator) checkCompletion(proj *Project) {
	if proj.Phase != PhaseExecuting || len(proj.Plan) == 0 {
		return
	}

	allCompleted := true
	anyFailed := false
	for _, t := range proj.Plan {
		if t.Status != TaskCompleted {
			allCompleted = false
		}
		if t.Status == TaskFailed {
			anyFailed = true
		}
	}

	if allCompleted {
		proj.CompletedAt = time.Now()
		if proj.MergerID != "" {
			o.agents.Kill(proj.MergerID)
			delete(o.agentIndex, proj.MergerID)
			delete(o.buffers, proj.MergerID)
			proj.MergerID = ""
		}
		o.setPhase(proj, PhaseCompleted)
		o.logger.WithProject(proj.ID).Info("orchestration completed",
			"duration", proj.CompletedAt.Sub(proj.StartedAt).String())
		return
	}

	if anyFailed && len(proj.Workers) == 0 {
		o.logger.WithProject(proj.ID).Warn("orchestration stalled: failed tasks block all remaining work")
		o.bus.Publish(event.NewLogEvent("warn", "orchestrator",
			"orchestration stalled: failed tasks block all remaining work", proj.ID, ""))
	}
}

// setPhase records and publishes a phase transition.
func (o *Orchestrator) setPhase(proj *Project, ph Phase) {
	proj.Phase = ph
	o.bus.Publish(event.NewPhaseChangedEvent(proj.ID, string(ph)))
}

func (o *Orchestrator) publishTaskStatus(proj *Project, task *PlanTask) {
	o.bus.Publish(event.NewTaskStatusChangedEvent(
		proj.ID, task.ID, string(task.Status), task.AssignedAgent, task.Branch))
}

// appendCapped appends chunk to buf, retaining at most max trailing bytes.
func appendCapped(buf, chunk []byte, max int) []byte {
	buf = append(buf, chunk...)
	if len(buf) > max {
		buf = append([]byte(nil), buf[len(buf)-max:]...)
	}
	return buf
}
