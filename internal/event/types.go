// Package event defines event types for decoupling components in foreman.
// These events are the contract surface between the orchestration engine and
// its host: the orchestrator publishes them, and the presentation or transport
// layer subscribes without requiring direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "project.phase_changed").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers published by the orchestration engine.
const (
	TypePhaseChanged       = "project.phase_changed"
	TypePlanReady          = "project.plan_ready"
	TypeTaskStatusChanged  = "task.status_changed"
	TypeWorkerSpawned      = "worker.spawned"
	TypeMergeResult        = "merge.result"
	TypeLog                = "log.message"
	TypeAgentLaunchRequest = "agent.launch_request"
	TypeTelemetry          = "agent.telemetry"
)

// TaskInfo is a snapshot of a plan task carried inside PlanReadyEvent.
// It mirrors the orchestrator's task record without importing it.
type TaskInfo struct {
	ID           string
	Title        string
	Description  string
	Status       string
	Order        int
	Dependencies []string
}

// -----------------------------------------------------------------------------
// Orchestration Events
// -----------------------------------------------------------------------------

// PhaseChangedEvent is emitted whenever a project transitions between phases.
type PhaseChangedEvent struct {
	baseEvent
	ProjectID string
	Phase     string
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(projectID, phase string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		ProjectID: projectID,
		Phase:     phase,
	}
}

// PlanReadyEvent is emitted when a coordinator's plan has been parsed and
// materialized into tasks, and the project is awaiting human approval.
type PlanReadyEvent struct {
	baseEvent
	ProjectID string
	Tasks     []TaskInfo
}

// NewPlanReadyEvent creates a PlanReadyEvent.
func NewPlanReadyEvent(projectID string, tasks []TaskInfo) PlanReadyEvent {
	return PlanReadyEvent{
		baseEvent: newBaseEvent(TypePlanReady),
		ProjectID: projectID,
		Tasks:     tasks,
	}
}

// TaskStatusChangedEvent is emitted whenever a plan task's status changes.
type TaskStatusChangedEvent struct {
	baseEvent
	ProjectID     string
	TaskID        string
	Status        string
	AssignedAgent string // Empty when unassigned
	Branch        string // Empty until a worktree is provisioned
}

// NewTaskStatusChangedEvent creates a TaskStatusChangedEvent.
func NewTaskStatusChangedEvent(projectID, taskID, status, assignedAgent, branch string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		baseEvent:     newBaseEvent(TypeTaskStatusChanged),
		ProjectID:     projectID,
		TaskID:        taskID,
		Status:        status,
		AssignedAgent: assignedAgent,
		Branch:        branch,
	}
}

// WorkerSpawnedEvent is emitted when a worker agent has been assigned a task
// and its launch has been requested.
type WorkerSpawnedEvent struct {
	baseEvent
	ProjectID string
	AgentID   string
	TaskID    string
	Branch    string
}

// NewWorkerSpawnedEvent creates a WorkerSpawnedEvent.
func NewWorkerSpawnedEvent(projectID, agentID, taskID, branch string) WorkerSpawnedEvent {
	return WorkerSpawnedEvent{
		baseEvent: newBaseEvent(TypeWorkerSpawned),
		ProjectID: projectID,
		AgentID:   agentID,
		TaskID:    taskID,
		Branch:    branch,
	}
}

// MergeResultEvent is emitted when the merger agent reports the outcome of
// integrating a worker's branch.
type MergeResultEvent struct {
	baseEvent
	ProjectID string
	Branch    string
	TaskID    string // "unresolved" when no task owns the reported branch
	Success   bool
	Message   string
}

// NewMergeResultEvent creates a MergeResultEvent.
func NewMergeResultEvent(projectID, branch, taskID string, success bool, message string) MergeResultEvent {
	return MergeResultEvent{
		baseEvent: newBaseEvent(TypeMergeResult),
		ProjectID: projectID,
		Branch:    branch,
		TaskID:    taskID,
		Success:   success,
		Message:   message,
	}
}

// LogEvent carries an orchestration-level log record for hosts that surface
// logs in a UI in addition to the structured log file.
type LogEvent struct {
	baseEvent
	Level     string
	Source    string
	Message   string
	ProjectID string
	AgentID   string // Optional
}

// NewLogEvent creates a LogEvent.
func NewLogEvent(level, source, message, projectID, agentID string) LogEvent {
	return LogEvent{
		baseEvent: newBaseEvent(TypeLog),
		Level:     level,
		Source:    source,
		Message:   message,
		ProjectID: projectID,
		AgentID:   agentID,
	}
}

// AgentLaunchRequestEvent is the hand-off by which the orchestrator asks its
// host to materialize a process via the agent supervisor. The orchestrator
// never spawns processes directly.
type AgentLaunchRequestEvent struct {
	baseEvent
	ID         string
	ProjectID  string
	Task       string
	Cwd        string
	Role       string
	PlanTaskID string // Empty for coordinator/merger
	Branch     string // Empty until a worktree is provisioned
}

// NewAgentLaunchRequestEvent creates an AgentLaunchRequestEvent.
func NewAgentLaunchRequestEvent(id, projectID, task, cwd, role, planTaskID, branch string) AgentLaunchRequestEvent {
	return AgentLaunchRequestEvent{
		baseEvent:  newBaseEvent(TypeAgentLaunchRequest),
		ID:         id,
		ProjectID:  projectID,
		Task:       task,
		Cwd:        cwd,
		Role:       role,
		PlanTaskID: planTaskID,
		Branch:     branch,
	}
}

// TelemetryEvent carries a line-level signal extracted from an agent's
// terminal output (file activity, build progress, task markers).
type TelemetryEvent struct {
	baseEvent
	AgentID string
	Kind    string
	Path    string // Optional extracted file path
	Message string // Optional extracted message
}

// NewTelemetryEvent creates a TelemetryEvent.
func NewTelemetryEvent(agentID, kind, path, message string) TelemetryEvent {
	return TelemetryEvent{
		baseEvent: newBaseEvent(TypeTelemetry),
		AgentID:   agentID,
		Kind:      kind,
		Path:      path,
		Message:   message,
	}
}
