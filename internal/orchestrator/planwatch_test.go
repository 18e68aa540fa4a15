package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/foreman/internal/prompt"
)

// waitForPhase polls until the project reaches the phase or the deadline
// passes. Watcher delivery is asynchronous.
func waitForPhase(t *testing.T, h *harness, projectID string, want Phase) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := h.orch.Snapshot(projectID); ok && snap.Phase == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := h.orch.Snapshot(projectID)
	t.Fatalf("phase = %s, want %s", snap.Phase, want)
}

const planFileJSON = `{"tasks":[{"title":"Task A","description":"do a"},{"title":"Task B","depends_on":[1]}]}`

func TestWatchPlanFileDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, DefaultConfig())
	if err := h.orch.Start("p1", "proj", "", dir, 0); err != nil {
		t.Fatal(err)
	}

	pw, err := h.orch.WatchPlanFile("p1")
	if err != nil {
		t.Fatalf("WatchPlanFile failed: %v", err)
	}
	defer pw.Close()

	if err := os.WriteFile(filepath.Join(dir, prompt.PlanFileName), []byte(planFileJSON), 0644); err != nil {
		t.Fatal(err)
	}

	waitForPhase(t, h, "p1", PhaseReviewing)

	snap, _ := h.orch.Snapshot("p1")
	if len(snap.Plan) != 2 {
		t.Fatalf("plan has %d tasks, want 2", len(snap.Plan))
	}
	if deps := snap.Plan[1].Dependencies; len(deps) != 1 || deps[0] != "task-1" {
		t.Errorf("task-2 dependencies = %v, want [task-1]", deps)
	}
}

func TestWatchPlanFileIngestsPreexistingFile(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, DefaultConfig())
	if err := h.orch.Start("p1", "proj", "", dir, 0); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, prompt.PlanFileName), []byte(planFileJSON), 0644); err != nil {
		t.Fatal(err)
	}

	pw, err := h.orch.WatchPlanFile("p1")
	if err != nil {
		t.Fatalf("WatchPlanFile failed: %v", err)
	}
	defer pw.Close()

	waitForPhase(t, h, "p1", PhaseReviewing)
}

func TestWatchPlanFileIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, DefaultConfig())
	if err := h.orch.Start("p1", "proj", "", dir, 0); err != nil {
		t.Fatal(err)
	}

	pw, err := h.orch.WatchPlanFile("p1")
	if err != nil {
		t.Fatal(err)
	}
	defer pw.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(planFileJSON), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := h.phase(t, "p1"); got != PhasePlanning {
		t.Errorf("phase = %s, want planning", got)
	}
}

func TestWatchPlanFileUnknownProject(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if _, err := h.orch.WatchPlanFile("missing"); err == nil {
		t.Error("WatchPlanFile for unknown project succeeded, want error")
	}
}
