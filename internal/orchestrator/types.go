package orchestrator

import "time"

// Phase is the lifecycle state of an orchestrated project.
//
// Transitions: initializing -> planning -> reviewing -> executing ->
// {completed | error}. PhaseCompleting is reserved: it exists in the model
// but no transition produces it.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseReviewing    Phase = "reviewing"
	PhaseExecuting    Phase = "executing"
	// PhaseCompleting is reserved and currently unused.
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// TaskStatus is the lifecycle state of a single plan task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// PlanTask is one materialized entry of an approved plan. Tasks are created
// when a coordinator's plan is parsed and never deleted; scheduling and
// completion events mutate them.
type PlanTask struct {
	ID            string
	Title         string
	Description   string
	Status        TaskStatus
	AssignedAgent string // Empty until assigned
	Branch        string // Empty until a worktree is provisioned
	Order         int    // 1-based position in the declared plan
	Dependencies  []string
}

// Project is the record of one orchestration. It exists only between Start
// and abort/completion; orchestration state is not persisted across restarts.
type Project struct {
	ID          string
	Name        string
	Description string
	Cwd         string

	Phase         Phase
	CoordinatorID string
	MergerID      string
	// Workers maps live worker agent ids to the task they execute.
	Workers map[string]string

	Plan                 []*PlanTask
	MaxConcurrentWorkers int

	StartedAt   time.Time
	CompletedAt time.Time

	// planProduced records that a plan was parsed at some point, so a
	// coordinator exiting after planning is not treated as a failure.
	planProduced bool
}

// taskByID returns the plan task with the given id, or nil.
func (p *Project) taskByID(id string) *PlanTask {
	for _, t := range p.Plan {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// taskByAgent returns the plan task assigned to the given agent, or nil.
func (p *Project) taskByAgent(agentID string) *PlanTask {
	for _, t := range p.Plan {
		if t.AssignedAgent == agentID {
			return t
		}
	}
	return nil
}

// taskByBranch returns the plan task bound to the given branch, or nil.
func (p *Project) taskByBranch(branch string) *PlanTask {
	for _, t := range p.Plan {
		if t.Branch == branch {
			return t
		}
	}
	return nil
}

// isReady reports whether the task can be assigned: it is pending and every
// dependency has completed.
func (p *Project) isReady(t *PlanTask) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, depID := range t.Dependencies {
		dep := p.taskByID(depID)
		if dep == nil || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}
