package execution

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// startingTimeout bounds how long Start waits for the runner to report
// Started. The per-handle timeout carried in the configuration is
// deliberately not consulted here; see DESIGN.md.
var startingTimeout = 30 * time.Second

// CallbackRegistry registers an action with an external signal source (a
// cancellation token or a process shutdown-hook registry). The returned
// function removes the registration; it must be safe to call more than once.
type CallbackRegistry interface {
	AddCallback(fn func()) (remove func())
}

// Executor schedules the runner off the caller's goroutine.
type Executor func(fn func())

// HandleConfig carries the immutable settings for one execution.
type HandleConfig struct {
	DisplayName string
	Directory   string
	Command     string
	Arguments   []string
	Environment map[string]string
	Timeout     time.Duration
	Daemon      bool

	Runner    ProcessRunner
	Executor  Executor
	Listeners []Listener

	// Optional external signal sources. While the handle is in the started
	// state an abort action is registered with both; the registrations are
	// removed the moment any terminal transition begins.
	Cancellation  CallbackRegistry
	ShutdownHooks CallbackRegistry

	Logger *log.Logger
}

// Handle is the execution handle for one launched command. It owns the lock
// guarding state and result; every read and mutation of either goes through
// that lock, and every state change broadcasts to waiters.
type Handle struct {
	displayName string
	directory   string
	command     string
	arguments   []string
	environment map[string]string
	timeout     time.Duration
	daemon      bool

	runner  ProcessRunner
	execute Executor

	cancellation  CallbackRegistry
	shutdownHooks CallbackRegistry

	logger *log.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	result    *Result
	listeners []Listener

	removeCancellation func()
	removeShutdownHook func()
}

// NewHandle builds a handle in the init state.
func NewHandle(cfg HandleConfig) *Handle {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	execute := cfg.Executor
	if execute == nil {
		execute = func(fn func()) { go fn() }
	}
	h := &Handle{
		displayName:   cfg.DisplayName,
		directory:     cfg.Directory,
		command:       cfg.Command,
		arguments:     slices.Clone(cfg.Arguments),
		environment:   cloneEnv(cfg.Environment),
		timeout:       cfg.Timeout,
		daemon:        cfg.Daemon,
		runner:        cfg.Runner,
		execute:       execute,
		cancellation:  cfg.Cancellation,
		shutdownHooks: cfg.ShutdownHooks,
		logger:        logger,
		state:         StateInit,
		listeners:     slices.Clone(cfg.Listeners),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func (h *Handle) DisplayName() string { return h.displayName }
func (h *Handle) Directory() string   { return h.directory }
func (h *Handle) Command() string     { return h.command }
func (h *Handle) Daemon() bool        { return h.daemon }

// Timeout returns the configured per-handle timeout. It is surfaced for
// callers but does not influence the starting wait bound.
func (h *Handle) Timeout() time.Duration { return h.timeout }

// Arguments returns a copy of the command arguments, in order.
func (h *Handle) Arguments() []string {
	return slices.Clone(h.arguments)
}

// Environment returns a copy of the environment mapping.
func (h *Handle) Environment() map[string]string {
	return cloneEnv(h.environment)
}

func (h *Handle) String() string { return h.displayName }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AddListener registers a listener. Listeners are notified in registration
// order.
func (h *Handle) AddListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// RemoveListener removes a previously registered listener.
func (h *Handle) RemoveListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.listeners {
		if existing == l {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *Handle) snapshotListeners() []Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.listeners)
}

// Start hands the execution to the runner and blocks until the runner
// reports that the process started. If the handle is still starting after
// the wait bound it asks the runner to abort and gives up. A failure
// recorded during startup is returned to the caller.
func (h *Handle) Start() error {
	h.logger.Info("starting process",
		"process", h.displayName,
		"dir", h.directory,
		"command", h.command+" "+strings.Join(h.arguments, " "))
	h.logger.Debug("process environment", "process", h.displayName, "env", h.environment)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateInit {
		return fmt.Errorf("cannot start process %q because it has already been started", h.displayName)
	}
	h.setStateLocked(StateStarting)

	runner := h.runner
	h.execute(func() { runner.Run(h) })

	for h.state == StateStarting {
		h.logger.Debug("waiting until process started", "process", h.displayName)
		if h.waitLocked(startingTimeout) {
			continue
		}
		if h.state != StateStarting {
			break
		}
		runner.AbortProcess()
		return fmt.Errorf("giving up on %s", runner)
	}

	if h.result != nil {
		if err := h.result.RethrowFailure(); err != nil {
			return err
		}
	}

	h.logger.Info("successfully started process", "process", h.displayName)
	return nil
}

// Abort requests termination of a running or detached execution and blocks
// until the handle is terminal. Aborting an already-terminal handle is a
// no-op.
func (h *Handle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.IsTerminal() {
		return nil
	}
	if h.state != StateStarted && h.state != StateDetached {
		return fmt.Errorf("cannot abort process %q because it is not in started or detached state", h.displayName)
	}
	h.runner.AbortProcess()
	_, err := h.waitForFinishLocked()
	return err
}

// WaitForFinish blocks until the handle is terminal and returns the recorded
// result, surfacing its wrapped failure if one was recorded. It may be
// called any number of times; after termination it returns immediately.
func (h *Handle) WaitForFinish() (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitForFinishLocked()
}

func (h *Handle) waitForFinishLocked() (Result, error) {
	for !h.state.IsTerminal() {
		h.cond.Wait()
	}
	res := *h.result
	return res, res.RethrowFailure()
}

// waitLocked blocks on the condition until a broadcast arrives or d elapses.
// The lock is released while waiting. Returns false when the deadline fired
// before any broadcast.
func (h *Handle) waitLocked(d time.Duration) bool {
	timedOut := false
	timer := time.AfterFunc(d, func() {
		h.mu.Lock()
		timedOut = true
		h.mu.Unlock()
		h.cond.Broadcast()
	})
	h.cond.Wait()
	timer.Stop()
	return !timedOut
}

func (h *Handle) setStateLocked(state State) {
	h.logger.Debug("changing state", "process", h.displayName, "state", state)
	h.state = state
	h.cond.Broadcast()
}

// Started is invoked by the runner once the process is up. It publishes the
// started state, registers the abort action with the shutdown-hook registry
// and the cancellation token, then notifies listeners. A listener error is
// not caught here; it propagates to the runner.
//
// The state change comes first so that an abort delivered through either
// registration always finds the handle in an abortable state. A token
// cancelled before this point schedules the abort action the moment it is
// registered.
func (h *Handle) Started() error {
	h.mu.Lock()
	h.setStateLocked(StateStarted)
	h.mu.Unlock()

	h.registerAbortCallbacks()

	for _, l := range h.snapshotListeners() {
		if err := l.ExecutionStarted(h); err != nil {
			return err
		}
	}
	return nil
}

// Finished is invoked by the runner when the process exits normally.
func (h *Handle) Finished(exitCode int) {
	if exitCode != 0 {
		h.setEndStateInfo(StateFailed, exitCode, nil)
	} else {
		h.setEndStateInfo(StateSucceeded, 0, nil)
	}
}

// Aborted is invoked by the runner when the process exits after an abort. A
// zero exit code is recorded as -1: a killed process can report a
// misleading zero on some platforms.
func (h *Handle) Aborted(exitCode int) {
	if exitCode == 0 {
		exitCode = -1
	}
	h.setEndStateInfo(StateAborted, exitCode, nil)
}

// Failed is invoked by the runner when launching or waiting fails.
func (h *Handle) Failed(cause error) {
	h.setEndStateInfo(StateFailed, -1, cause)
}

// Detached is invoked by the runner when the caller releases interest in a
// still-running execution. Finish listeners are not notified.
func (h *Handle) Detached() {
	h.setEndStateInfo(StateDetached, 0, nil)
}

// setEndStateInfo performs every terminal (and detach) transition, in a
// fixed order: deregister external abort callbacks, snapshot the current
// state, build the result, notify finish listeners, then publish state and
// result together under the lock.
func (h *Handle) setEndStateInfo(newState State, exitValue int, cause error) {
	h.deregisterAbortCallbacks()

	h.mu.Lock()
	currentState := h.state
	h.mu.Unlock()

	newResult := newResult(exitValue, h.failureFor(cause, currentState), h.displayName)
	if !currentState.IsTerminal() && newState != StateDetached {
		for _, l := range h.snapshotListeners() {
			if err := l.ExecutionFinished(h, newResult); err != nil {
				// A misbehaving listener replaces the execution's own
				// failure in the published result.
				newResult = Result{exitValue: exitValue, failure: h.failureFor(err, currentState), displayName: h.displayName}
				break
			}
		}
	}

	h.mu.Lock()
	h.setStateLocked(newState)
	h.result = &newResult
	h.mu.Unlock()

	h.logger.Debug("process finished",
		"process", h.displayName, "exitValue", exitValue, "state", newState)
}

func (h *Handle) failureFor(cause error, currentState State) error {
	if cause == nil {
		return nil
	}
	if currentState == StateStarting {
		return fmt.Errorf("a problem occurred starting process %q: %w", h.displayName, cause)
	}
	return fmt.Errorf("a problem occurred waiting for process %q to complete: %w", h.displayName, cause)
}

func (h *Handle) abortAction() {
	if err := h.Abort(); err != nil {
		h.logger.Warn("abort requested by external signal failed", "process", h.displayName, "err", err)
	}
}

// registerAbortCallbacks wires the abort action into the external signal
// sources. The handle's lock is not held across the registrations: an
// already-cancelled source schedules the action, and the action takes the
// lock itself.
func (h *Handle) registerAbortCallbacks() {
	var removeHook, removeCancel func()
	if h.shutdownHooks != nil {
		removeHook = h.shutdownHooks.AddCallback(h.abortAction)
	}
	if h.cancellation != nil {
		removeCancel = h.cancellation.AddCallback(h.abortAction)
	}

	h.mu.Lock()
	h.removeShutdownHook = removeHook
	h.removeCancellation = removeCancel
	h.mu.Unlock()
}

func (h *Handle) deregisterAbortCallbacks() {
	h.mu.Lock()
	removeHook := h.removeShutdownHook
	removeCancel := h.removeCancellation
	h.removeShutdownHook = nil
	h.removeCancellation = nil
	h.mu.Unlock()

	if removeHook != nil {
		removeHook()
	}
	if removeCancel != nil {
		removeCancel()
	}
}
