// Package worktree manages isolated, branch-scoped git working copies for
// agents. Each worker gets its own checkout on its own branch so parallel
// agents can mutate files without collision. All operations shell out to the
// git CLI.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/foreman/internal/logging"
)

// Worktree describes a provisioned working copy.
type Worktree struct {
	Path   string
	Branch string
}

// Manager provisions and removes agent worktrees beneath
// {repo}/.foreman/worktrees, with branches named {prefix}/{agentID}.
type Manager struct {
	branchPrefix string
	logger       *logging.Logger
}

// NewManager creates a worktree Manager. An empty branchPrefix defaults to
// "foreman".
func NewManager(branchPrefix string, logger *logging.Logger) *Manager {
	if branchPrefix == "" {
		branchPrefix = "foreman"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{branchPrefix: branchPrefix, logger: logger}
}

// worktreesDir returns the directory holding all agent checkouts for a repo.
func worktreesDir(repoPath string) string {
	return filepath.Join(repoPath, ".foreman", "worktrees")
}

// git runs a git command in dir and returns its combined output.
func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// EnsureGitRepo reports whether path holds (or could be made to hold) a
// usable git repository. A missing repository is initialized; a repository
// without any commit gets an empty root commit, since `git worktree add`
// needs a HEAD to branch from.
func (m *Manager) EnsureGitRepo(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	if _, err := git(path, "rev-parse", "--is-inside-work-tree"); err != nil {
		if _, err := git(path, "init"); err != nil {
			m.logger.Warn("git init failed", "path", path, "error", err)
			return false
		}
	}

	if _, err := git(path, "rev-parse", "HEAD"); err != nil {
		if _, err := git(path, "commit", "--allow-empty", "-m", "initial commit"); err != nil {
			m.logger.Warn("creating root commit failed", "path", path, "error", err)
			return false
		}
	}

	return true
}

// CreateWorktree provisions a new working copy for the agent on a fresh
// branch. The branch is created from the repository's current HEAD.
func (m *Manager) CreateWorktree(repoPath, agentID string) (Worktree, error) {
	branch := fmt.Sprintf("%s/%s", m.branchPrefix, agentID)
	path := filepath.Join(worktreesDir(repoPath), agentID)

	if err := os.MkdirAll(worktreesDir(repoPath), 0755); err != nil {
		return Worktree{}, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	if _, err := git(repoPath, "worktree", "add", "-b", branch, path); err != nil {
		return Worktree{}, fmt.Errorf("failed to add worktree for %s: %w", agentID, err)
	}

	m.logger.Debug("worktree created", "agent_id", agentID, "path", path, "branch", branch)
	return Worktree{Path: path, Branch: branch}, nil
}

// RemoveWorktree removes the agent's checkout. The branch is retained so a
// merger can still integrate it. Removal is best-effort: errors are logged,
// not surfaced.
func (m *Manager) RemoveWorktree(agentID, repoPath string) {
	path := filepath.Join(worktreesDir(repoPath), agentID)

	if _, err := git(repoPath, "worktree", "remove", "--force", path); err != nil {
		m.logger.Warn("worktree removal failed", "agent_id", agentID, "error", err)
		// Fall back to deleting the directory and pruning the metadata.
		os.RemoveAll(path)
		git(repoPath, "worktree", "prune")
	}
}

// CleanupAll removes every agent checkout under the repository and prunes
// stale worktree metadata.
func (m *Manager) CleanupAll(repoPath string) {
	dir := worktreesDir(repoPath)

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				m.RemoveWorktree(entry.Name(), repoPath)
			}
		}
	}

	os.RemoveAll(dir)
	git(repoPath, "worktree", "prune")
}

// List returns the agent ids that currently have a checkout.
func (m *Manager) List(repoPath string) []string {
	entries, err := os.ReadDir(worktreesDir(repoPath))
	if err != nil {
		return nil
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids
}
