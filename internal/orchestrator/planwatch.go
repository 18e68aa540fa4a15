package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/foreman/internal/prompt"
	"github.com/Iron-Ham/foreman/internal/signal"
)

// PlanWatcher watches a project's working directory for the plan fallback
// file. Some coordinator CLIs write the plan to disk instead of printing it;
// the watcher feeds that file through the same materialization path as
// inline output, then stops itself.
type PlanWatcher struct {
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Close stops the watcher. Safe to call more than once.
func (pw *PlanWatcher) Close() {
	pw.closeOnce.Do(func() {
		close(pw.done)
		pw.watcher.Close()
	})
}

// WatchPlanFile starts watching the project's working directory for the plan
// fallback file. The caller owns the returned watcher and should Close it if
// planning ends another way; the watcher also closes itself after a
// successful ingest.
func (o *Orchestrator) WatchPlanFile(projectID string) (*PlanWatcher, error) {
	o.mu.Lock()
	proj, ok := o.projects[projectID]
	var cwd string
	if ok {
		cwd = proj.Cwd
	}
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active orchestration for project %s", projectID)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create plan watcher: %w", err)
	}
	if err := w.Add(cwd); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cwd, err)
	}

	pw := &PlanWatcher{watcher: w, done: make(chan struct{})}

	// The coordinator may have written the file before the watch began.
	planPath := filepath.Join(cwd, prompt.PlanFileName)
	if o.tryIngestPlanFile(projectID, planPath) {
		pw.Close()
		return pw, nil
	}

	go o.planWatchLoop(projectID, pw)
	return pw, nil
}

func (o *Orchestrator) planWatchLoop(projectID string, pw *PlanWatcher) {
	for {
		select {
		case <-pw.done:
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != prompt.PlanFileName {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if o.tryIngestPlanFile(projectID, ev.Name) {
				pw.Close()
				return
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			o.logger.WithProject(projectID).Warn("plan watcher error", "error", err)
		}
	}
}

// tryIngestPlanFile reads and materializes a plan file. Returns false when
// the file is absent, malformed, or the project is no longer planning; a
// partially written file simply fails to parse and a later write retries.
func (o *Orchestrator) tryIngestPlanFile(projectID, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	tasks := signal.ParsePlanJSON(data)
	if tasks == nil {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	proj, ok := o.projects[projectID]
	if !ok || proj.Phase != PhasePlanning {
		return false
	}

	o.logger.WithProject(projectID).Info("plan ingested from fallback file", "path", path)
	o.materializePlan(proj, tasks)
	return true
}
