//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-desk/internal/event"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	seen   chan event.Event
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan event.Event, 64)}
}

func (r *recorder) handle(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.seen <- ev
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) terminals() []event.Event {
	var out []event.Event
	for _, ev := range r.all() {
		if ev.Terminal {
			out = append(out, ev)
		}
	}
	return out
}

func newTestSupervisor() *Supervisor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, WithStopGrace(500*time.Millisecond))
}

func sh(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunSuccessStreamsEvents(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	script := `echo 'Opening browser'
echo '{"type":"step","data":{"n":1}}'
echo
echo 'warn' 1>&2
printf 'Done'`
	res, err := s.Run(context.Background(), sh(script), rec.handle)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.RunID)

	events := rec.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal)
	assert.True(t, last.Success)
	assert.Equal(t, event.TypeComplete, last.Type)
	assert.Contains(t, last.Text, "Opening browser")
	assert.Len(t, rec.terminals(), 1)

	var stdoutTypes []string
	var sawError bool
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, res.RunID, ev.RunID)
		if ev.Type == event.TypeError {
			sawError = true
			assert.Equal(t, "warn", ev.Text)
			continue
		}
		stdoutTypes = append(stdoutTypes, ev.Type)
	}
	assert.True(t, sawError)
	assert.Equal(t, []string{event.TypeOutput, "step", event.TypeOutput}, stdoutTypes)
	assert.Equal(t, 4, res.Events)

	state, runID := s.State()
	assert.Equal(t, Idle, state)
	assert.Empty(t, runID)
}

func TestRunNonzeroExit(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	res, err := s.Run(context.Background(), sh(`echo 'boom' 1>&2; exit 3`), rec.handle)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "boom")

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)

	terms := rec.terminals()
	require.Len(t, terms, 1)
	assert.False(t, terms[0].Success)
	assert.Contains(t, terms[0].Text, "boom")
}

func TestRunNonzeroExitWithoutStderr(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	res, err := s.Run(context.Background(), sh(`exit 1`), rec.handle)
	require.Error(t, err)
	assert.Contains(t, res.ErrorText, "code 1")
	require.Len(t, rec.terminals(), 1)
	assert.NotEmpty(t, rec.terminals()[0].Text)
}

func TestRunSpawnFailure(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	res, err := s.Run(context.Background(), Command{Path: "/nonexistent/worker-binary"}, rec.handle)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)

	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal)
	assert.False(t, events[0].Success)

	state, _ := s.State()
	assert.Equal(t, Idle, state)
}

func TestRunEmptyCommand(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	_, err := s.Run(context.Background(), Command{}, rec.handle)
	require.Error(t, err)
	require.Len(t, rec.terminals(), 1)
}

func TestRunEnvOverlay(t *testing.T) {
	s := newTestSupervisor()
	cmd := sh(`printf '%s' "$TASK_QUERY"`)
	cmd.Env = []string{"TASK_QUERY=check NVDA"}

	res, err := s.Run(context.Background(), cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "check NVDA", res.Output)
}

func waitFor(t *testing.T, rec *recorder, text string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-rec.seen:
			if ev.Text == text {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", text)
		}
	}
}

func TestBusyAndStop(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Run(context.Background(), sh(`echo ready; exec sleep 30`), rec.handle)
		done <- outcome{res, err}
	}()
	waitFor(t, rec, "ready")

	state, runID := s.State()
	assert.Equal(t, Running, state)
	assert.NotEmpty(t, runID)

	other := newRecorder()
	res, err := s.Run(context.Background(), sh(`echo hi`), other.handle)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, res)
	assert.Empty(t, other.all())

	require.True(t, s.Stop())

	select {
	case out := <-done:
		assert.ErrorIs(t, out.err, ErrStopped)
		assert.False(t, out.res.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	terms := rec.terminals()
	require.Len(t, terms, 1)
	assert.False(t, terms[0].Success)
	assert.Equal(t, "task stopped", terms[0].Text)

	assert.False(t, s.Stop())

	res, err = s.Run(context.Background(), sh(`echo again`), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestStopEscalatesToKill(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), sh(`trap '' TERM; echo ready; while true; do sleep 0.1; done`), rec.handle)
		done <- err
	}()
	waitFor(t, rec, "ready")
	s.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("run ignored SIGKILL escalation")
	}
	assert.Len(t, rec.terminals(), 1)
}

func TestContextCancelResolvesAsStopped(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, sh(`echo ready; exec sleep 30`), rec.handle)
		done <- err
	}()
	waitFor(t, rec, "ready")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resolve after cancel")
	}
	assert.Len(t, rec.terminals(), 1)
}

func TestReserveClaimsSlot(t *testing.T) {
	s := newTestSupervisor()
	resv, err := s.Reserve(context.Background())
	require.NoError(t, err)

	state, runID := s.State()
	assert.Equal(t, Running, state)
	assert.Equal(t, resv.RunID(), runID)

	_, err = s.Reserve(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Run(context.Background(), sh(`true`), nil)
	assert.ErrorIs(t, err, ErrBusy)

	resv.Release()
	resv.Release()
	state, _ = s.State()
	assert.Equal(t, Idle, state)
	assert.Error(t, resv.Context().Err())

	_, err = s.Run(context.Background(), sh(`true`), nil)
	assert.NoError(t, err)
}

func TestStopBeforeLaunchSkipsWorker(t *testing.T) {
	s := newTestSupervisor()
	rec := newRecorder()
	marker := t.TempDir() + "/launched"

	resv, err := s.Reserve(context.Background())
	require.NoError(t, err)
	require.True(t, s.Stop())
	assert.ErrorIs(t, context.Cause(resv.Context()), ErrStopped)

	res, err := resv.Run(sh(`touch `+marker), rec.handle)
	assert.ErrorIs(t, err, ErrStopped)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, resv.RunID(), res.RunID)

	terms := rec.terminals()
	require.Len(t, terms, 1)
	assert.False(t, terms[0].Success)
	assert.Equal(t, ErrStopped.Error(), terms[0].Text)
	assert.Len(t, rec.all(), 1)
	assert.NoFileExists(t, marker)

	state, _ := s.State()
	assert.Equal(t, Idle, state)
	assert.False(t, s.Stop())

	_, err = resv.Run(sh(`true`), nil)
	assert.Error(t, err)
}

func TestLineWriterSplitsAcrossWrites(t *testing.T) {
	var got []string
	w := newLineWriter(event.Stdout, func(ev event.Event) { got = append(got, ev.Text) })

	_, _ = w.Write([]byte("hel"))
	_, _ = w.Write([]byte("lo\nwor"))
	_, _ = w.Write([]byte("ld\n\npartial"))
	assert.Equal(t, []string{"hello", "world"}, got)

	w.Flush()
	assert.Equal(t, []string{"hello", "world", "partial"}, got)
	assert.Equal(t, "hello\nworld\n\npartial", w.String())
}
