package runner

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jacek-lewandowski/dockhand/execution"
	"github.com/jacek-lewandowski/dockhand/internal/streams"
)

func newLocalHandle(t *testing.T, stdin *strings.Reader, stdout, stderr *syncBuffer, command string, args ...string) *execution.Handle {
	t.Helper()
	router := &streams.Router{
		Input:  &streams.ForwardInput{},
		Output: &streams.ForwardOutput{Stdout: stdout, Stderr: stderr},
	}
	if stdin != nil {
		router.Input = &streams.ForwardInput{Source: stdin}
	}
	runner := NewLocalRunner(LocalRunnerConfig{
		DisplayName: "command '" + command + "'",
		Streams:     router,
	})
	return execution.NewHandle(execution.HandleConfig{
		DisplayName: "command '" + command + "'",
		Command:     command,
		Arguments:   args,
		Runner:      runner,
	})
}

func TestLocalRunnerCapturesOutput(t *testing.T) {
	var stdout, stderr syncBuffer
	h := newLocalHandle(t, nil, &stdout, &stderr,
		"/bin/sh", "-c", "printf out; printf err >&2")

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := h.WaitForFinish()
	if err != nil {
		t.Fatalf("WaitForFinish: %v", err)
	}
	if result.ExitValue() != 0 || h.State() != execution.StateSucceeded {
		t.Fatalf("expected success, got exit %d in state %s", result.ExitValue(), h.State())
	}
	if stdout.String() != "out" {
		t.Errorf("unexpected stdout %q", stdout.String())
	}
	if stderr.String() != "err" {
		t.Errorf("unexpected stderr %q", stderr.String())
	}
}

func TestLocalRunnerForwardsStdin(t *testing.T) {
	var stdout, stderr syncBuffer
	h := newLocalHandle(t, strings.NewReader("through the pipe"), &stdout, &stderr,
		"/bin/sh", "-c", "cat")

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.WaitForFinish(); err != nil {
		t.Fatalf("WaitForFinish: %v", err)
	}
	if stdout.String() != "through the pipe" {
		t.Errorf("unexpected stdout %q", stdout.String())
	}
}

func TestLocalRunnerNonZeroExitIsFailedState(t *testing.T) {
	var stdout, stderr syncBuffer
	h := newLocalHandle(t, nil, &stdout, &stderr, "/bin/sh", "-c", "exit 4")

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	result, err := h.WaitForFinish()
	if err != nil {
		t.Fatalf("expected no failure for plain non-zero exit, got %v", err)
	}
	if result.ExitValue() != 4 || h.State() != execution.StateFailed {
		t.Fatalf("expected failed state with exit 4, got %s with %d", h.State(), result.ExitValue())
	}
}

func TestLocalRunnerAbortKillsProcess(t *testing.T) {
	var stdout, stderr syncBuffer
	h := newLocalHandle(t, nil, &stdout, &stderr, "/bin/sh", "-c", "sleep 30")

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	result, err := h.WaitForFinish()
	if err != nil {
		t.Fatalf("WaitForFinish: %v", err)
	}
	if h.State() != execution.StateAborted {
		t.Fatalf("expected aborted state, got %s", h.State())
	}
	// SIGKILL surfaces as 128+9.
	if result.ExitValue() != 137 {
		t.Fatalf("expected exit 137 for killed process, got %d", result.ExitValue())
	}
}

func TestLocalRunnerMissingBinaryFailsStart(t *testing.T) {
	var stdout, stderr syncBuffer
	h := newLocalHandle(t, nil, &stdout, &stderr, "/nonexistent/binary")

	err := h.Start()
	if err == nil || !strings.Contains(err.Error(), "starting process") {
		t.Fatalf("expected wrapped startup failure, got %v", err)
	}
	if h.State() != execution.StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
}

func TestLocalRunnerDaemonDetaches(t *testing.T) {
	var stdout, stderr syncBuffer
	router := &streams.Router{
		Input:  &streams.ForwardInput{},
		Output: &streams.ForwardOutput{Stdout: &stdout, Stderr: &stderr},
	}
	runner := NewLocalRunner(LocalRunnerConfig{
		DisplayName: "command 'sleep'",
		Streams:     router,
	})
	h := execution.NewHandle(execution.HandleConfig{
		DisplayName: "command 'sleep'",
		Command:     "/bin/sh",
		Arguments:   []string{"-c", "sleep 30"},
		Daemon:      true,
		Runner:      runner,
	})

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for h.State() != execution.StateDetached {
		select {
		case <-deadline:
			t.Fatalf("expected detached state, still %s", h.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
	// The daemon survives the detach and must be cleaned up here.
	if err := h.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
}

func TestLocalRunnerStartedListenerFailureReapsProcess(t *testing.T) {
	var stdout, stderr syncBuffer
	router := &streams.Router{
		Input:  &streams.ForwardInput{},
		Output: &streams.ForwardOutput{Stdout: &stdout, Stderr: &stderr},
	}
	runner := NewLocalRunner(LocalRunnerConfig{
		DisplayName: "command 'sh'",
		Streams:     router,
	})
	listenerErr := errors.New("refusing to track execution")
	// The delay lets the child's output land on the undrained pipes
	// before the rejection, so the failure path has to release them.
	h := execution.NewHandle(execution.HandleConfig{
		DisplayName: "command 'sh'",
		Command:     "/bin/sh",
		Arguments:   []string{"-c", "echo hello; sleep 5"},
		Runner:      runner,
		Listeners:   []execution.Listener{&failingStartListener{delay: 300 * time.Millisecond, err: listenerErr}},
	})
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	type finishResult struct {
		err error
	}
	done := make(chan finishResult, 1)
	go func() {
		_, err := h.WaitForFinish()
		done <- finishResult{err}
	}()

	select {
	case fin := <-done:
		if fin.err == nil || !strings.Contains(fin.err.Error(), listenerErr.Error()) {
			t.Fatalf("expected listener error, got %v", fin.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("execution never finished, still %s", h.State())
	}
	if h.State() != execution.StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
}
