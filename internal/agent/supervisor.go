// Package agent supervises pseudo-terminal-backed coding agent processes.
// Each agent id owns exactly one live process; the supervisor streams its
// output to attached viewers and to the telemetry extractor, delivers the
// task prompt once the CLI is ready to ingest it, and reports exits.
package agent

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/signal"
)

// Role identifies what part an agent plays in an orchestration.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleWorker      Role = "worker"
	RoleMerger      Role = "merger"
	RoleManual      Role = "manual"
)

// Status is the lifecycle state of a supervised agent process.
type Status string

const (
	// StatusLaunched means the process has been spawned but is not yet
	// considered running.
	StatusLaunched Status = "launched"
	// StatusRunning means the process is up and producing output (or the
	// launch grace period elapsed without incident).
	StatusRunning Status = "running"
	// StatusCompleted means the process exited with code 0, or was killed
	// deliberately (a forced completion).
	StatusCompleted Status = "completed"
	// StatusError means the process exited with a nonzero code.
	StatusError Status = "error"
)

// Info is a snapshot of a supervised agent session.
type Info struct {
	ID          string
	ProjectID   string
	Task        string
	Cwd         string
	Role        Role
	Status      Status
	LaunchedAt  time.Time
	CompletedAt time.Time
}

// Config holds tunables for the supervisor.
type Config struct {
	// Command is the agent CLI binary to spawn, with Args appended.
	Command string
	Args    []string

	// OutputBufferSize bounds the per-agent replay buffer in bytes.
	OutputBufferSize int

	// RunningDelay is how long after spawn an agent auto-advances from
	// launched to running, unless superseded by an exit.
	RunningDelay time.Duration

	// SettleDelay is the pause between the first observed output byte and
	// writing the task text. The CLI's line editor needs time to come up
	// before it can ingest pasted text.
	SettleDelay time.Duration

	// SubmitDelay is the pause between writing the task text and writing
	// the submit keystroke, modeling paste-then-confirm.
	SubmitDelay time.Duration

	// FallbackDelay delivers the task even if no output ever arrived,
	// handling a CLI that waits silently for input.
	FallbackDelay time.Duration

	// StripEnvPrefixes lists environment variable name prefixes removed
	// from the child environment, so the agent CLI does not believe it is
	// nested inside a peer instance.
	StripEnvPrefixes []string

	// Initial pty dimensions.
	Cols uint16
	Rows uint16
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		Command:          "claude",
		Args:             []string{"--dangerously-skip-permissions"},
		OutputBufferSize: 256 * 1024,
		RunningDelay:     2 * time.Second,
		SettleDelay:      1 * time.Second,
		SubmitDelay:      500 * time.Millisecond,
		FallbackDelay:    5 * time.Second,
		StripEnvPrefixes: []string{"CLAUDECODE", "CLAUDE_CODE_", "FOREMAN_AGENT"},
		Cols:             200,
		Rows:             50,
	}
}

// submitKey is written after the task text to confirm it.
const submitKey = "\r"

// OutputFunc receives raw output chunks as they are read from an agent's pty.
type OutputFunc func(agentID string, chunk []byte)

// ExitFunc is invoked after a natural process exit has been recorded.
type ExitFunc func(agentID string, exitCode int)

// session is the supervisor's bookkeeping for one live process.
type session struct {
	info    Info
	cmd     *exec.Cmd
	ptmx    *os.File
	buf     *TailBuffer
	viewers map[io.WriteCloser]struct{}

	deliverOnce sync.Once // one-shot guard across both delivery paths
	outputOnce  sync.Once // first observed output byte
	killed      bool
}

// Supervisor owns one pty-backed process per agent id.
type Supervisor struct {
	mu       sync.RWMutex
	cfg      Config
	logger   *logging.Logger
	bus      *event.Bus
	tele     *signal.Extractor
	sessions map[string]*session

	onOutput OutputFunc
	onExit   ExitFunc
}

// NewSupervisor creates a Supervisor. Telemetry events extracted from agent
// output are published on bus; raw output and exits are additionally relayed
// through the OnOutput/OnExit callbacks when set.
func NewSupervisor(cfg Config, bus *event.Bus, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		sessions: make(map[string]*session),
	}
	s.tele = signal.NewExtractor(func(e signal.Event) {
		if bus != nil {
			bus.Publish(event.NewTelemetryEvent(e.AgentID, string(e.Kind), e.Path, e.Message))
		}
	})
	return s
}

// OnOutput registers the sink receiving every raw output chunk.
// Must be called before Launch.
func (s *Supervisor) OnOutput(fn OutputFunc) { s.onOutput = fn }

// OnExit registers the handler invoked after natural process exits.
// Must be called before Launch.
func (s *Supervisor) OnExit(fn ExitFunc) { s.onExit = fn }

// Launch spawns the agent CLI for the given id inside a pseudo-terminal.
// It fails if the id already has a live process.
func (s *Supervisor) Launch(id, projectID, task, cwd string, role Role) error {
	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok && existing.live() {
		s.mu.Unlock()
		return fmt.Errorf("agent %s already has a live process", id)
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = cwd
	cmd.Env = s.sanitizedEnv(os.Environ())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: s.cfg.Cols, Rows: s.cfg.Rows})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	sess := &session{
		info: Info{
			ID:         id,
			ProjectID:  projectID,
			Task:       task,
			Cwd:        cwd,
			Role:       role,
			Status:     StatusLaunched,
			LaunchedAt: time.Now(),
		},
		cmd:     cmd,
		ptmx:    ptmx,
		buf:     NewTailBuffer(s.cfg.OutputBufferSize),
		viewers: make(map[io.WriteCloser]struct{}),
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.WithAgent(id).Info("agent launched",
		"project_id", projectID, "role", string(role), "cwd", cwd)

	// Auto-advance to running unless an exit superseded the launch.
	time.AfterFunc(s.cfg.RunningDelay, func() {
		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && cur == sess && cur.info.Status == StatusLaunched {
			cur.info.Status = StatusRunning
		}
		s.mu.Unlock()
	})

	// Fallback delivery for a CLI that waits silently for input.
	time.AfterFunc(s.cfg.FallbackDelay, func() {
		s.deliverTask(sess)
	})

	go s.readLoop(sess)
	go s.waitLoop(sess)

	return nil
}

// readLoop pumps pty output into the replay buffer, attached viewers, the
// telemetry extractor, and the raw output sink.
func (s *Supervisor) readLoop(sess *session) {
	id := sess.info.ID
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			sess.outputOnce.Do(func() {
				// Paste-then-confirm: give the line editor a beat to
				// settle before the task text arrives.
				time.AfterFunc(s.cfg.SettleDelay, func() {
					s.deliverTask(sess)
				})
			})

			sess.buf.Write(chunk)
			s.fanOut(sess, chunk)
			s.tele.Feed(id, chunk)
			if s.onOutput != nil {
				s.onOutput(id, chunk)
			}
		}
		if err != nil {
			// Read errors (including EIO at process exit) end the pump;
			// waitLoop handles the exit itself.
			return
		}
	}
}

// deliverTask writes the task text followed, after a pause, by the submit
// keystroke. The one-shot guard makes the first-output and fallback paths
// mutually exclusive.
func (s *Supervisor) deliverTask(sess *session) {
	sess.deliverOnce.Do(func() {
		s.mu.RLock()
		live := sess.live()
		task := sess.info.Task
		s.mu.RUnlock()
		if !live || task == "" {
			return
		}

		if _, err := sess.ptmx.WriteString(task); err != nil {
			s.logger.WithAgent(sess.info.ID).Warn("task delivery failed", "error", err)
			return
		}
		time.AfterFunc(s.cfg.SubmitDelay, func() {
			s.mu.RLock()
			live := sess.live()
			s.mu.RUnlock()
			if live {
				sess.ptmx.WriteString(submitKey)
			}
		})
	})
}

// waitLoop records the natural exit of the agent process.
func (s *Supervisor) waitLoop(sess *session) {
	err := sess.cmd.Wait()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	id := sess.info.ID

	s.mu.Lock()
	cur, ok := s.sessions[id]
	if !ok || cur != sess || sess.killed {
		// Kill already tore this session down.
		s.mu.Unlock()
		return
	}
	if exitCode == 0 {
		sess.info.Status = StatusCompleted
	} else {
		sess.info.Status = StatusError
	}
	sess.info.CompletedAt = time.Now()
	sess.ptmx.Close()
	s.mu.Unlock()

	// Flush the trailing partial line before discarding parser state.
	s.tele.Flush(id)
	s.tele.Clear(id)

	s.logger.WithAgent(id).Info("agent exited", "exit_code", exitCode)

	if s.onExit != nil {
		s.onExit(id, exitCode)
	}
}

// Write sends input to the agent's terminal. It is a no-op against a dead
// process.
func (s *Supervisor) Write(id string, data []byte) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	live := ok && sess.live()
	s.mu.RUnlock()

	if !live {
		return
	}
	sess.ptmx.Write(data)
}

// Resize changes the agent's pty dimensions. It is a no-op against a dead
// process; resize failures are swallowed, not surfaced.
func (s *Supervisor) Resize(id string, cols, rows uint16) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	live := ok && sess.live()
	s.mu.RUnlock()

	if !live {
		return
	}
	_ = pty.Setsize(sess.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Attach registers a viewer for the agent's output. The bounded recent-output
// buffer is replayed before live streaming begins. Returns false if the agent
// is unknown.
func (s *Supervisor) Attach(id string, viewer io.WriteCloser) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	replay := sess.buf.Bytes()
	sess.viewers[viewer] = struct{}{}
	s.mu.Unlock()

	if len(replay) > 0 {
		viewer.Write(replay)
	}
	return true
}

// Detach removes a viewer without closing it.
func (s *Supervisor) Detach(id string, viewer io.WriteCloser) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		delete(sess.viewers, viewer)
	}
	s.mu.Unlock()
}

// fanOut streams a chunk to all attached viewers.
func (s *Supervisor) fanOut(sess *session, chunk []byte) {
	s.mu.RLock()
	viewers := make([]io.WriteCloser, 0, len(sess.viewers))
	for v := range sess.viewers {
		viewers = append(viewers, v)
	}
	s.mu.RUnlock()

	for _, v := range viewers {
		v.Write(chunk)
	}
}

// Kill terminates the agent's process, forces its status to completed,
// disconnects and closes all viewers, and removes all bookkeeping for the id.
func (s *Supervisor) Kill(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.killed = true
	sess.info.Status = StatusCompleted // Forced
	sess.info.CompletedAt = time.Now()
	viewers := make([]io.WriteCloser, 0, len(sess.viewers))
	for v := range sess.viewers {
		viewers = append(viewers, v)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	if sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	sess.ptmx.Close()

	for _, v := range viewers {
		v.Close()
	}

	s.tele.Clear(id)
	s.logger.WithAgent(id).Info("agent killed")
}

// Get returns a snapshot of the agent's session, if known.
func (s *Supervisor) Get(id string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Info{}, false
	}
	return sess.info, true
}

// Output returns a copy of the agent's bounded recent output.
func (s *Supervisor) Output(id string) []byte {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return sess.buf.Bytes()
}

// live reports whether the session's process has not yet finished.
func (sess *session) live() bool {
	return sess.info.Status == StatusLaunched || sess.info.Status == StatusRunning
}

// sanitizedEnv filters the parent environment so the spawned CLI does not
// detect a peer instance around it.
func (s *Supervisor) sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		stripped := false
		for _, prefix := range s.cfg.StripEnvPrefixes {
			if strings.HasPrefix(name, prefix) {
				stripped = true
				break
			}
		}
		if !stripped {
			out = append(out, kv)
		}
	}
	return out
}
