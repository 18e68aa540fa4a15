// Package signal bridges free-form agent terminal output to discrete
// orchestration signals. It has two cooperating halves: a line-oriented
// telemetry extractor that produces UI-facing events (file and build
// activity, task markers), and a set of stateless marker detectors the
// orchestrator uses to recognize plans, task completions, and merge results.
//
// Marker detection over terminal text is inherently heuristic: no structured
// protocol exists with the underlying CLI. Detectors are therefore kept as
// independently testable pure functions, swappable without touching
// orchestration control flow.
package signal

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// Kind identifies the type of telemetry signal extracted from a line.
type Kind string

const (
	KindFileCreated    Kind = "file_created"
	KindFileEdited     Kind = "file_edited"
	KindBuildStarted   Kind = "build_started"
	KindBuildSucceeded Kind = "build_succeeded"
	KindBuildError     Kind = "build_error"
	KindTaskCompleted  Kind = "task_completed"
)

// Event is a single telemetry signal extracted from an agent's output.
type Event struct {
	AgentID string
	Kind    Kind
	Path    string // Extracted file path, when the rule captures one
	Message string // The matched line, ANSI-stripped and trimmed
	Time    time.Time
}

// rule pairs a telemetry kind with the pattern that recognizes it.
// pathGroup is the index of the capture group holding a file path (0 = none).
type rule struct {
	kind      Kind
	pattern   *regexp.Regexp
	pathGroup int
}

// Rules are tested in order and the first match wins, so at most one event
// is emitted per line. BuildSucceeded is deliberately tested before
// BuildError: lines like "compiled 14 packages" must not be misread as
// failures just because a later rule is greedy about the word "build".
var rules = []rule{
	{KindFileCreated, regexp.MustCompile(`(?i)\b(?:created|creating)\s+(?:file\s+)?([~\w@./-]+\.[A-Za-z0-9]+)`), 1},
	{KindFileEdited, regexp.MustCompile(`(?i)\b(?:updated|updating|edited|editing|modified|modifying|wrote)\s+(?:file\s+)?([~\w@./-]+\.[A-Za-z0-9]+)`), 1},
	{KindBuildStarted, regexp.MustCompile(`(?i)\b(?:build(?:ing)? started|starting build|compiling|running go build)\b`), 0},
	{KindBuildSucceeded, regexp.MustCompile(`(?i)\b(?:build (?:succeeded|passed|ok)|compiled(?: successfully)?|compilation (?:finished|succeeded))\b`), 0},
	{KindBuildError, regexp.MustCompile(`(?i)(?:\bbuild (?:failed|error)\b|\bcompilation (?:failed|error)\b|: error:|\berror\[)`), 0},
	{KindTaskCompleted, regexp.MustCompile(`(?i)(?:\btask (?:complete|completed|finished)\b|` + TaskCompleteMarker + `)`), 0},
}

// Extractor performs line-oriented telemetry extraction with per-agent
// partial-line buffering. Chunks arriving from a pty rarely align with line
// boundaries, so the trailing partial line is held back until its newline
// arrives (or Flush is called on process exit).
type Extractor struct {
	mu      sync.Mutex
	partial map[string]string // agentID -> trailing partial line
	emit    func(Event)
}

// NewExtractor creates an Extractor that delivers events to emit.
func NewExtractor(emit func(Event)) *Extractor {
	return &Extractor{
		partial: make(map[string]string),
		emit:    emit,
	}
}

// Feed processes an output chunk for the given agent. Complete lines are
// matched against the rule set; the trailing partial line is buffered.
func (x *Extractor) Feed(agentID string, chunk []byte) {
	x.mu.Lock()
	data := x.partial[agentID] + string(chunk)
	lines := strings.Split(data, "\n")
	x.partial[agentID] = lines[len(lines)-1]
	complete := lines[:len(lines)-1]
	x.mu.Unlock()

	for _, line := range complete {
		x.matchLine(agentID, line)
	}
}

// Flush processes the agent's trailing partial line as if it were complete.
// Call this when the agent's process exits so a final unterminated line is
// not lost.
func (x *Extractor) Flush(agentID string) {
	x.mu.Lock()
	line := x.partial[agentID]
	delete(x.partial, agentID)
	x.mu.Unlock()

	if line != "" {
		x.matchLine(agentID, line)
	}
}

// Clear discards all buffered state for the agent.
func (x *Extractor) Clear(agentID string) {
	x.mu.Lock()
	delete(x.partial, agentID)
	x.mu.Unlock()
}

// matchLine tests a single line against the ordered rule set and emits at
// most one event.
func (x *Extractor) matchLine(agentID, line string) {
	clean := strings.TrimRight(ansi.Strip(line), "\r")
	trimmed := strings.TrimSpace(clean)
	if trimmed == "" {
		return
	}

	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(clean)
		if m == nil {
			continue
		}

		ev := Event{
			AgentID: agentID,
			Kind:    r.kind,
			Message: trimmed,
			Time:    time.Now(),
		}
		if r.pathGroup > 0 && r.pathGroup < len(m) {
			ev.Path = m[r.pathGroup]
		}
		if x.emit != nil {
			x.emit(ev)
		}
		return
	}
}
