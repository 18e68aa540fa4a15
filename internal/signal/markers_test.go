package signal

import (
	"reflect"
	"testing"
)

func TestParsePlanExtractsTasks(t *testing.T) {
	output := `
I explored the codebase and here is my plan.

<plan>
{
  "tasks": [
    {"title": "Add config loader", "description": "Introduce viper-backed config", "depends_on": []},
    {"title": "Wire HTTP server", "description": "Serve the API", "depends_on": [1]},
    {"title": "Integration tests", "description": "End to end coverage", "depends_on": [1, 2]}
  ]
}
</plan>

Let me know if you want changes.`

	tasks := ParsePlan(output)
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}

	if tasks[0].Title != "Add config loader" {
		t.Errorf("task 0 title = %q", tasks[0].Title)
	}
	if tasks[1].Description != "Serve the API" {
		t.Errorf("task 1 description = %q", tasks[1].Description)
	}
	if !reflect.DeepEqual(tasks[2].Dependencies, []int{1, 2}) {
		t.Errorf("task 2 deps = %v, want [1 2]", tasks[2].Dependencies)
	}
	if len(tasks[0].Dependencies) != 0 {
		t.Errorf("task 0 deps = %v, want none", tasks[0].Dependencies)
	}
}

func TestParsePlanAcceptsDependsAlias(t *testing.T) {
	output := `<plan>{"tasks":[{"title":"A","description":"first"},{"title":"B","description":"second","depends":[1]}]}</plan>`

	tasks := ParsePlan(output)
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if !reflect.DeepEqual(tasks[1].Dependencies, []int{1}) {
		t.Errorf("deps = %v, want [1]", tasks[1].Dependencies)
	}
}

func TestParsePlanStripsAnsi(t *testing.T) {
	output := "\x1b[1m<plan>\x1b[0m{\"tasks\":[{\"title\":\"A\",\"description\":\"d\"}]}\x1b[1m</plan>\x1b[0m"

	tasks := ParsePlan(output)
	if len(tasks) != 1 || tasks[0].Title != "A" {
		t.Errorf("unexpected parse of ANSI-wrapped plan: %v", tasks)
	}
}

func TestParsePlanReturnsNilWhenAbsentOrMalformed(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"no tags", "I am still thinking about the plan."},
		{"bad json", "<plan>{not json}</plan>"},
		{"empty tasks", `<plan>{"tasks":[]}</plan>`},
		{"missing title", `<plan>{"tasks":[{"title":"","description":"d"}]}</plan>`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePlan(tt.output); got != nil {
				t.Errorf("ParsePlan = %v, want nil", got)
			}
		})
	}
}

func TestParsePlanSkipsInvalidEarlierPairs(t *testing.T) {
	// Earlier tag pairs in the accumulated stream may be empty or malformed
	// (echoed text, an aborted attempt); a genuine plan printed after them
	// must still parse.
	output := `First attempt:
<plan></plan>
Second attempt:
<plan>{"tasks":[</plan>
Final:
<plan>{"tasks":[{"title":"A","description":"d"}]}</plan>
`

	tasks := ParsePlan(output)
	if len(tasks) != 1 || tasks[0].Title != "A" {
		t.Errorf("ParsePlan = %v, want the single valid plan", tasks)
	}
}

func TestDetectTaskComplete(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"present", "work is done\n" + TaskCompleteMarker + "\n", true},
		{"embedded ansi", "\x1b[32m" + TaskCompleteMarker + "\x1b[0m", true},
		{"crlf line", "done\r\n" + TaskCompleteMarker + "\r\n", true},
		{"indented", "  " + TaskCompleteMarker + "\n", true},
		{"absent", "still working on the parser", false},
		// Prompts mention the sentinel mid-sentence; echoed back, that must
		// not register.
		{"mid line", "please print " + TaskCompleteMarker + " when done\n", false},
		{"prefix on line", TaskCompleteMarker + "D\n", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectTaskComplete(tt.output); got != tt.want {
				t.Errorf("DetectTaskComplete = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectMergeResultSuccess(t *testing.T) {
	res := DetectMergeResult("merging...\nMERGE_OK foreman/agent-3\nall good\n")
	if res == nil {
		t.Fatal("DetectMergeResult = nil, want success")
	}
	if !res.Success || res.Branch != "foreman/agent-3" || res.Details != "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDetectMergeResultFailure(t *testing.T) {
	res := DetectMergeResult("MERGE_FAILED foreman/agent-2: conflict in internal/api/api.go\n")
	if res == nil {
		t.Fatal("DetectMergeResult = nil, want failure")
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
	if res.Branch != "foreman/agent-2" {
		t.Errorf("branch = %q", res.Branch)
	}
	if res.Details != "conflict in internal/api/api.go" {
		t.Errorf("details = %q", res.Details)
	}
}

func TestDetectMergeResultFailureWithoutDetails(t *testing.T) {
	res := DetectMergeResult("MERGE_FAILED foreman/agent-9\n")
	if res == nil || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Branch != "foreman/agent-9" || res.Details != "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDetectMergeResultFirstInStreamWins(t *testing.T) {
	res := DetectMergeResult("MERGE_FAILED b1: oops\nMERGE_OK b2\n")
	if res == nil || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Branch != "b1" {
		t.Errorf("branch = %q, want b1", res.Branch)
	}
}

func TestDetectMergeResultNone(t *testing.T) {
	if res := DetectMergeResult("no merge markers here"); res != nil {
		t.Errorf("DetectMergeResult = %+v, want nil", res)
	}
}

func TestDetectMergeResultRequiresWholeLine(t *testing.T) {
	// Instructions and prompts echoed by the terminal may mention a sentinel
	// mid-sentence; only a report alone on its line counts.
	tests := []struct {
		name   string
		output string
	}{
		{"ok mid line", "report MERGE_OK with the branch when done\n"},
		{"failed mid line", "on conflict print MERGE_FAILED and the branch\n"},
		{"trailing text", "MERGE_OK foreman/agent-3 and then some\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := DetectMergeResult(tt.output); res != nil {
				t.Errorf("DetectMergeResult = %+v, want nil", res)
			}
		})
	}
}

func TestParsePlanJSONBareDocument(t *testing.T) {
	tasks := ParsePlanJSON([]byte(`{"tasks":[{"title":"A"},{"title":"B","depends_on":[1]}]}`))
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if deps := tasks[1].Dependencies; len(deps) != 1 || deps[0] != 1 {
		t.Errorf("dependencies = %v, want [1]", deps)
	}
}

func TestParsePlanJSONMalformed(t *testing.T) {
	if tasks := ParsePlanJSON([]byte(`{"tasks":[{"title":`)); tasks != nil {
		t.Errorf("ParsePlanJSON = %v, want nil for truncated JSON", tasks)
	}
}
