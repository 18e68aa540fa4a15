package signal

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// TaskCompleteMarker is the sentinel a worker prints when it considers its
// task done. Prompts instruct workers to emit it on its own line.
const TaskCompleteMarker = "FOREMAN_TASK_COMPLETE"

// Merge result sentinels printed by the merger agent.
const (
	mergeOKMarker     = "MERGE_OK"
	mergeFailedMarker = "MERGE_FAILED"
)

// planRe extracts a candidate JSON payload between <plan> tags in
// coordinator output. Candidates that do not decode into a valid plan are
// skipped, so stray or empty tag pairs earlier in the stream cannot mask a
// genuine plan printed later.
var planRe = regexp.MustCompile(`(?s)<plan>\s*(.*?)\s*</plan>`)

// Result sentinels match only alone on their line. The terminal echoes the
// input the orchestrator injects, so a prompt or instruction that merely
// mentions a sentinel mid-line must never satisfy a detector; prompts also
// never spell a sentinel contiguously.
var taskCompleteRe = regexp.MustCompile(`(?m)^[ \t]*` + TaskCompleteMarker + `[ \t\r]*$`)

var (
	mergeOKRe = regexp.MustCompile(`(?m)^[ \t]*` + mergeOKMarker + `[ \t]+(\S+)[ \t\r]*$`)
	// Branch names cannot contain ':' (git refname rules), so the colon
	// unambiguously separates the branch from the failure details.
	mergeFailedRe = regexp.MustCompile(`(?m)^[ \t]*` + mergeFailedMarker + `[ \t]+([^\s:]+)(?::[ \t]*([^\n\r]*))?[ \t\r]*$`)
)

// PlanTask is one parsed entry of a coordinator's plan. Dependencies are
// 1-based ordinals into the plan's task list; the orchestrator rewrites them
// to task IDs when the plan is materialized.
type PlanTask struct {
	Title        string
	Description  string
	Dependencies []int
}

// MergeResult is the parsed outcome of a merger report.
type MergeResult struct {
	Success bool
	Branch  string
	Details string // Populated for failures when the merger includes one
}

// ParsePlan extracts an ordered plan from accumulated coordinator output.
// It looks for JSON wrapped in <plan></plan> tags:
//
//	<plan>{"tasks":[{"title":"...","description":"...","depends_on":[1]}]}</plan>
//
// The alternative key "depends" is accepted for depends_on. Every tag pair
// in the text is tried in stream order and the first valid plan wins, so an
// earlier malformed or empty pair does not hide a real one. Returns nil when
// no well-formed, non-empty plan is present; absence is not an error.
func ParsePlan(text string) []PlanTask {
	for _, m := range planRe.FindAllStringSubmatch(ansi.Strip(text), -1) {
		if tasks := ParsePlanJSON([]byte(m[1])); tasks != nil {
			return tasks
		}
	}
	return nil
}

// ParsePlanJSON parses the bare plan JSON document, without the surrounding
// tags. This is the format of the plan fallback file a coordinator may write
// instead of printing the plan inline.
func ParsePlanJSON(data []byte) []PlanTask {
	var raw struct {
		Tasks []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			DependsOn   []int  `json:"depends_on"`
			Depends     []int  `json:"depends"` // Alternative name
		} `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	if len(raw.Tasks) == 0 {
		return nil
	}

	tasks := make([]PlanTask, 0, len(raw.Tasks))
	for _, rt := range raw.Tasks {
		if strings.TrimSpace(rt.Title) == "" {
			return nil
		}
		deps := rt.DependsOn
		if len(deps) == 0 && len(rt.Depends) > 0 {
			deps = rt.Depends
		}
		tasks = append(tasks, PlanTask{
			Title:        strings.TrimSpace(rt.Title),
			Description:  strings.TrimSpace(rt.Description),
			Dependencies: deps,
		})
	}
	return tasks
}

// DetectTaskComplete reports whether the accumulated worker output contains
// the task completion sentinel alone on a line.
func DetectTaskComplete(text string) bool {
	return taskCompleteRe.MatchString(ansi.Strip(text))
}

// DetectMergeResult scans accumulated merger output for a merge sentinel,
// each recognized only as a whole line:
//
//	MERGE_OK <branch>
//	MERGE_FAILED <branch>: <details>
//
// When both appear, the one occurring first in stream order wins; the
// orchestrator resets the merger's buffer after consuming a result, so each
// call sees at most one fresh report. Returns nil when neither is present.
func DetectMergeResult(text string) *MergeResult {
	clean := ansi.Strip(text)

	okLoc := mergeOKRe.FindStringSubmatchIndex(clean)
	failLoc := mergeFailedRe.FindStringSubmatchIndex(clean)

	switch {
	case okLoc == nil && failLoc == nil:
		return nil
	case failLoc == nil || (okLoc != nil && okLoc[0] < failLoc[0]):
		return &MergeResult{
			Success: true,
			Branch:  clean[okLoc[2]:okLoc[3]],
		}
	default:
		res := &MergeResult{
			Success: false,
			Branch:  clean[failLoc[2]:failLoc[3]],
		}
		if failLoc[4] >= 0 {
			res.Details = strings.TrimSpace(clean[failLoc[4]:failLoc[5]])
		}
		return res
	}
}
