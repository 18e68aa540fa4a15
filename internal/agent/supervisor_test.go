package agent

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
)

// testConfig returns a config with short delays, using sh as the agent CLI.
func testConfig(script string) Config {
	cfg := DefaultConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", script}
	cfg.RunningDelay = 50 * time.Millisecond
	cfg.SettleDelay = 50 * time.Millisecond
	cfg.SubmitDelay = 20 * time.Millisecond
	cfg.FallbackDelay = 300 * time.Millisecond
	return cfg
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestLaunchRejectsDuplicateID(t *testing.T) {
	s := NewSupervisor(testConfig("sleep 5"), event.NewBus(), logging.NopLogger())
	defer s.Kill("agent-1")

	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("first Launch failed: %v", err)
	}
	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err == nil {
		t.Error("second Launch for live id succeeded, want error")
	}
}

func TestNaturalExitSetsStatusByExitCode(t *testing.T) {
	tests := []struct {
		name   string
		script string
		status Status
		code   int
	}{
		{"zero", "exit 0", StatusCompleted, 0},
		{"nonzero", "exit 3", StatusError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSupervisor(testConfig(tt.script), event.NewBus(), logging.NopLogger())

			var mu sync.Mutex
			gotCode := -100
			s.OnExit(func(id string, code int) {
				mu.Lock()
				gotCode = code
				mu.Unlock()
			})

			if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
				t.Fatalf("Launch failed: %v", err)
			}

			waitFor(t, 5*time.Second, func() bool {
				info, ok := s.Get("agent-1")
				return ok && info.Status == tt.status
			}, "exit status")

			waitFor(t, 5*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return gotCode == tt.code
			}, "exit callback")

			info, _ := s.Get("agent-1")
			if info.CompletedAt.IsZero() {
				t.Error("CompletedAt not stamped on exit")
			}
		})
	}
}

func TestOutputIsBufferedAndForwarded(t *testing.T) {
	s := NewSupervisor(testConfig("printf 'hello from agent'"), event.NewBus(), logging.NopLogger())

	var mu sync.Mutex
	var forwarded bytes.Buffer
	s.OnOutput(func(id string, chunk []byte) {
		mu.Lock()
		forwarded.Write(chunk)
		mu.Unlock()
	})

	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(string(s.Output("agent-1")), "hello from agent")
	}, "buffered output")

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(forwarded.String(), "hello from agent") {
		t.Errorf("output sink missing data, got %q", forwarded.String())
	}
}

func TestTaskDeliveredViaFallbackWhenSilent(t *testing.T) {
	// cat produces no output until it receives input, so only the fallback
	// timer can deliver the task; the pty echoes what was written.
	s := NewSupervisor(testConfig("cat"), event.NewBus(), logging.NopLogger())
	defer s.Kill("agent-1")

	if err := s.Launch("agent-1", "proj-1", "do the thing", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(string(s.Output("agent-1")), "do the thing")
	}, "fallback task delivery")
}

func TestTaskDeliveredAfterFirstOutput(t *testing.T) {
	s := NewSupervisor(testConfig("echo ready; cat"), event.NewBus(), logging.NopLogger())
	defer s.Kill("agent-1")

	if err := s.Launch("agent-1", "proj-1", "implement the parser", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		out := string(s.Output("agent-1"))
		return strings.Contains(out, "ready") && strings.Contains(out, "implement the parser")
	}, "settled task delivery")
}

func TestWriteAndResizeAreNoOpsOnDeadProcess(t *testing.T) {
	s := NewSupervisor(testConfig("exit 0"), event.NewBus(), logging.NopLogger())

	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		info, ok := s.Get("agent-1")
		return ok && info.Status == StatusCompleted
	}, "process exit")

	// Must not panic or error.
	s.Write("agent-1", []byte("ignored"))
	s.Resize("agent-1", 80, 24)
	s.Write("no-such-agent", []byte("ignored"))
	s.Resize("no-such-agent", 80, 24)
}

// closableBuffer is a viewer that records writes and whether it was closed.
type closableBuffer struct {
	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
}

func (c *closableBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Write(p)
}

func (c *closableBuffer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closableBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.String()
}

func (c *closableBuffer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestAttachReplaysBufferedOutput(t *testing.T) {
	s := NewSupervisor(testConfig("echo replay-me; sleep 5"), event.NewBus(), logging.NopLogger())
	defer s.Kill("agent-1")

	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(string(s.Output("agent-1")), "replay-me")
	}, "initial output")

	viewer := &closableBuffer{}
	if !s.Attach("agent-1", viewer) {
		t.Fatal("Attach returned false for live agent")
	}

	if !strings.Contains(viewer.String(), "replay-me") {
		t.Errorf("viewer missing replayed output: %q", viewer.String())
	}
}

func TestKillRemovesBookkeepingAndClosesViewers(t *testing.T) {
	s := NewSupervisor(testConfig("sleep 30"), event.NewBus(), logging.NopLogger())

	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	viewer := &closableBuffer{}
	s.Attach("agent-1", viewer)

	s.Kill("agent-1")

	if _, ok := s.Get("agent-1"); ok {
		t.Error("session still known after Kill")
	}
	if !viewer.Closed() {
		t.Error("viewer not closed by Kill")
	}

	// A killed id can be relaunched.
	if err := s.Launch("agent-1", "proj-1", "", t.TempDir(), RoleWorker); err != nil {
		t.Errorf("relaunch after Kill failed: %v", err)
	}
	s.Kill("agent-1")
}

func TestSanitizedEnvStripsNestingMarkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StripEnvPrefixes = []string{"CLAUDECODE", "CLAUDE_CODE_"}
	s := NewSupervisor(cfg, nil, logging.NopLogger())

	env := []string{
		"PATH=/usr/bin",
		"CLAUDECODE=1",
		"CLAUDE_CODE_ENTRYPOINT=cli",
		"HOME=/home/u",
	}

	got := s.sanitizedEnv(env)
	want := []string{"PATH=/usr/bin", "HOME=/home/u"}

	if len(got) != len(want) {
		t.Fatalf("sanitizedEnv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sanitizedEnv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
