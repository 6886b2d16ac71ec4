// Package supervisor runs the automation worker as a child process, streams
// its classified output and resolves exactly one terminal result per run.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/agent-desk/internal/event"
)

// DefaultStopGrace is the time between SIGTERM and SIGKILL on stop.
const DefaultStopGrace = 5 * time.Second

var (
	// ErrBusy is returned by Run while another run is in flight.
	ErrBusy = errors.New("supervisor busy: a task is already running")

	// ErrStopped is returned when a run was stopped or its context cancelled.
	ErrStopped = errors.New("task stopped")
)

// ExitError reports a worker that exited with a nonzero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("worker exited with code %d", e.Code)
	}
	return fmt.Sprintf("worker exited with code %d: %s", e.Code, msg)
}

// State is the supervisor lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Command describes the worker invocation. Env is overlaid on the current
// process environment.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Result is the outcome of one run.
type Result struct {
	RunID     string        `json:"runId"`
	Success   bool          `json:"success"`
	Output    string        `json:"output"`
	ErrorText string        `json:"error,omitempty"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
	Events    int           `json:"events"`
}

// Handler receives events in arrival order per stream. Calls are serialized.
type Handler func(event.Event)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithStopGrace sets the SIGTERM to SIGKILL grace period.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// Supervisor runs at most one worker at a time; concurrent Run calls are
// rejected with ErrBusy.
type Supervisor struct {
	logger *slog.Logger
	grace  time.Duration

	mu     sync.Mutex
	state  State
	runID  string
	cancel context.CancelCauseFunc
}

// New returns an idle Supervisor.
func New(logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{logger: logger, grace: DefaultStopGrace}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state and, when running, the run id.
func (s *Supervisor) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.runID
}

// Stop terminates the in-flight or reserved run, if any. The run still
// resolves with a single terminal event. Reports whether a run was stopped.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running || s.cancel == nil {
		return false
	}
	s.logger.Info("stopping task", "run_id", s.runID)
	s.cancel(ErrStopped)
	return true
}

// Reservation is a claimed run slot. The supervisor reports Running from the
// moment it is reserved, and Stop cancels its context, so work done before
// the worker launches is cut short and the launch itself is skipped.
type Reservation struct {
	s       *Supervisor
	ctx     context.Context
	runID   string
	used    atomic.Bool
	release sync.Once
}

// Reserve claims the run slot, returning ErrBusy when it is taken.
func (s *Supervisor) Reserve(ctx context.Context) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	s.state = Running
	s.runID = uuid.NewString()
	s.cancel = cancel
	return &Reservation{s: s, ctx: runCtx, runID: s.runID}, nil
}

// Context is cancelled by Stop or when the reservation is released.
func (r *Reservation) Context() context.Context { return r.ctx }

// RunID identifies the run this reservation is for.
func (r *Reservation) RunID() string { return r.runID }

// Release frees the slot. It may be called more than once and after Run.
func (r *Reservation) Release() {
	r.release.Do(r.s.finish)
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(nil)
	}
	s.state = Idle
	s.runID = ""
	s.cancel = nil
}

// Run launches the worker and blocks until it exits, forwarding every
// classified output line to onEvent followed by exactly one terminal
// "complete" event. The returned error is nil only on exit code 0; it is
// ErrBusy (with a nil Result and no events) when another run is in flight.
func (s *Supervisor) Run(ctx context.Context, c Command, onEvent Handler) (*Result, error) {
	resv, err := s.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	defer resv.Release()
	return resv.Run(c, onEvent)
}

// Run launches the worker in the reserved slot and releases it when the run
// resolves. A reservation stopped before launch still resolves with a single
// terminal "task stopped" event and ErrStopped. Run may be called once.
func (r *Reservation) Run(c Command, onEvent Handler) (*Result, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, errors.New("run slot already used")
	}
	defer r.Release()

	runCtx, runID := r.ctx, r.runID
	logger := r.s.logger.With("run_id", runID)
	start := time.Now()
	res := &Result{RunID: runID}

	var emitMu sync.Mutex
	emit := func(ev event.Event) {
		emitMu.Lock()
		defer emitMu.Unlock()
		ev.RunID = runID
		if !ev.Terminal {
			res.Events++
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
	terminate := func(ev event.Event) {
		res.Duration = time.Since(start)
		r.Release()
		emit(ev)
	}
	stopped := func(err error) (*Result, error) {
		cause := context.Cause(runCtx)
		res.ErrorText = ErrStopped.Error()
		res.ExitCode = exitCode(err)
		logger.Info("worker stopped", "cause", cause, "duration_ms", time.Since(start).Milliseconds())
		terminate(event.Complete(false, res.ErrorText))
		if cause != nil && !errors.Is(cause, ErrStopped) {
			return res, fmt.Errorf("%w: %w", ErrStopped, cause)
		}
		return res, ErrStopped
	}

	if err := runCtx.Err(); err != nil {
		return stopped(err)
	}

	stdout := newLineWriter(event.Stdout, emit)
	stderr := newLineWriter(event.Stderr, emit)

	if c.Path == "" {
		err := errors.New("worker command is empty")
		res.ErrorText = err.Error()
		res.ExitCode = -1
		terminate(event.Complete(false, res.ErrorText))
		return res, fmt.Errorf("start worker: %w", err)
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd, r.s.grace)

	if err := cmd.Start(); err != nil {
		if runCtx.Err() != nil {
			return stopped(err)
		}
		logger.Error("worker failed to start", "command", c.Path, "error", err)
		res.ErrorText = err.Error()
		res.ExitCode = -1
		terminate(event.Complete(false, res.ErrorText))
		return res, fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started", "command", c.Path, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	res.Output = stdout.String()
	errText := stderr.String()

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Exited cleanly; a descendant kept the output pipes open.
		logger.Warn("worker output pipes outlived the process", "error", waitErr)
		waitErr = nil
	}

	switch {
	case waitErr == nil:
		res.Success = true
		logger.Info("worker completed", "duration_ms", time.Since(start).Milliseconds(), "events", res.Events)
		terminate(event.Complete(true, res.Output))
		return res, nil

	case runCtx.Err() != nil:
		return stopped(waitErr)

	default:
		res.ExitCode = exitCode(waitErr)
		exitErr := &ExitError{Code: res.ExitCode, Stderr: errText}
		res.ErrorText = errText
		if strings.TrimSpace(res.ErrorText) == "" {
			res.ErrorText = exitErr.Error()
		}
		logger.Warn("worker failed", "exit_code", res.ExitCode, "error", waitErr)
		terminate(event.Complete(false, res.ErrorText))
		return res, exitErr
	}
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}
