// Package prompt renders the role-specific instruction text injected into
// agent terminals. Prompts are the only channel the orchestrator has to the
// agent CLIs: there is no structured protocol, so each prompt describes the
// output markers the signal detectors recognize. Markers are described, not
// reproduced: the terminal echoes injected input back into the scanned
// output stream, so a prompt containing a marker in detectable form would
// read back as the signal itself.
package prompt

import (
	"fmt"
	"strings"
)

// PlanFileName is the fallback plan location a coordinator may write instead
// of printing the plan inline.
const PlanFileName = ".foreman-plan.json"

// Meta carries project information common to all prompts.
type Meta struct {
	Name        string
	Description string
}

// Builder renders role prompts and merge instructions.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildCoordinatorPrompt renders the instruction text for the planning agent.
func (b *Builder) BuildCoordinatorPrompt(meta Meta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the planning coordinator for the project %q.\n\n", meta.Name)
	if meta.Description != "" {
		fmt.Fprintf(&sb, "Objective: %s\n\n", meta.Description)
	}
	sb.WriteString(`Explore the repository and decompose the objective into independent tasks
that can be executed in parallel by separate agents, each in its own git
worktree. Order tasks so that dependencies come first.

When your plan is final, print it as a JSON document of this shape:

{
  "tasks": [
    {"title": "short title", "description": "what to do and how to verify it", "depends_on": []},
    {"title": "another task", "description": "...", "depends_on": [1]}
  ]
}

wrapped in plan tags: an opening tag written as the word plan in angle
brackets immediately before the JSON, and the matching closing tag (the same
word with a leading slash) immediately after it. Dependency entries are
1-based positions of earlier tasks in the list. Alternatively you may write
the same JSON, without the tags, to a file named ` + PlanFileName + `
in the repository root. Do not begin implementing any task yourself.
`)
	return sb.String()
}

// BuildWorkerPrompt renders the instruction text for a worker agent. The
// branch is empty on the first render; the orchestrator re-renders once the
// worktree has been provisioned and the branch name is known.
func (b *Builder) BuildWorkerPrompt(meta Meta, taskTitle, taskDescription, branch string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a worker agent on the project %q.\n\n", meta.Name)
	fmt.Fprintf(&sb, "Your task: %s\n", taskTitle)
	if taskDescription != "" {
		fmt.Fprintf(&sb, "\n%s\n", taskDescription)
	}
	if branch != "" {
		fmt.Fprintf(&sb, "\nYou are working in an isolated checkout on branch %s. Commit your\nchanges to this branch; another agent will merge it.\n", branch)
	}
	// The terminal echoes delivered input, so the sentinel is described in
	// two parts rather than spelled contiguously; the detector only matches
	// the assembled word alone on a line.
	sb.WriteString("\nWork only on this task. When the task is fully done and committed, print a\nsingle line containing exactly the word FOREMAN_TASK_ immediately followed\nby COMPLETE, joined into one word with no space between the parts.\n")
	return sb.String()
}

// BuildMergerPrompt renders the instruction text for the merger agent, which
// stays resident and receives merge instructions over its input stream.
func (b *Builder) BuildMergerPrompt(meta Meta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the merge agent for the project %q.\n\n", meta.Name)
	sb.WriteString(`You will receive instructions of the form "Merge branch <name> ...", one
per completed task. For each instruction:

1. Merge the named branch into the main line.
2. Resolve any conflicts yourself, favoring the intent of both changes.
3. Report the outcome as a single line with nothing else on it. On success
   the line is the word formed by joining MERGE_ and OK, then a space and
   the branch name. On failure it is the word formed by joining MERGE_ and
   FAILED, then a space, the branch name, a colon, and a one-line reason.

Do nothing until you receive the first instruction.
`)
	return sb.String()
}

// BuildMergeInstruction renders the short imperative string written directly
// to the merger's input stream when a task completes. It carries no result
// sentinel: the echoed instruction must never read back as an outcome.
func (b *Builder) BuildMergeInstruction(branch, taskTitle string) string {
	return fmt.Sprintf("Merge branch %s into the main line (task: %s), then report the outcome on its own line in the agreed format.",
		branch, taskTitle)
}
