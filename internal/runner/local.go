package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/execution"
	"github.com/jacek-lewandowski/dockhand/internal/streams"
)

type LocalRunnerConfig struct {
	DisplayName string
	Streams     *streams.Router
	Logger      *log.Logger
}

// LocalRunner runs one execution as a subprocess of this process.
type LocalRunner struct {
	displayName string
	streams     *streams.Router
	logger      *log.Logger

	mu       sync.Mutex
	h        *execution.Handle
	aborted  bool
	exited   bool
	exitCode int
	cmd      *osexec.Cmd
}

func NewLocalRunner(cfg LocalRunnerConfig) *LocalRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &LocalRunner{
		displayName: cfg.DisplayName,
		streams:     cfg.Streams,
		logger:      logger,
	}
}

func (r *LocalRunner) String() string {
	return fmt.Sprintf("local runner for %q", r.displayName)
}

func (r *LocalRunner) Run(h *execution.Handle) {
	r.mu.Lock()
	r.h = h
	r.mu.Unlock()

	cmd := osexec.Command(h.Command(), h.Arguments()...)
	cmd.Dir = h.Directory()
	// An unspecified environment inherits this process's; an explicit one
	// replaces it wholesale.
	if env := h.Environment(); len(env) > 0 {
		cmd.Env = envList(env)
	}

	// StdinPipe keeps stdin out of exec's managed copy goroutines: Wait
	// must not block on a caller-supplied stdin source that never ends.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.Failed(err)
		return
	}
	proc := newLocalProcess(stdin)
	cmd.Stdout = proc.stdoutW
	cmd.Stderr = proc.stderrW

	r.streams.Connect(proc, h.DisplayName())

	if err := cmd.Start(); err != nil {
		proc.closeOutputs()
		h.Failed(err)
		return
	}

	r.mu.Lock()
	r.cmd = cmd
	abortedEarly := r.aborted
	r.mu.Unlock()
	if abortedEarly {
		r.kill(cmd)
	}

	if err := h.Started(); err != nil {
		r.kill(cmd)
		// The forwarders never started, so nothing drains the output
		// pipes; close them before Wait or exec's copiers wedge on them.
		proc.closeOutputs()
		cmd.Wait()
		h.Failed(err)
		return
	}
	r.streams.Start()

	if h.Daemon() {
		proc.stdin.Close()
		h.Detached()
		// Reap the detached child so it does not linger as a zombie, and
		// keep a later abort able to reach a terminal state. A natural
		// exit leaves the handle detached.
		go func() {
			waitErr := cmd.Wait()
			proc.closeOutputs()
			exitCode, _ := exitCodeFor(waitErr)
			r.mu.Lock()
			r.exited = true
			r.exitCode = exitCode
			wasAborted := r.aborted
			r.mu.Unlock()
			if wasAborted {
				h.Aborted(exitCode)
			}
		}()
		return
	}

	waitErr := cmd.Wait()
	proc.closeOutputs()
	r.streams.Stop()

	r.mu.Lock()
	wasAborted := r.aborted
	r.mu.Unlock()

	exitCode, known := exitCodeFor(waitErr)
	switch {
	case wasAborted:
		h.Aborted(exitCode)
	case waitErr != nil && !known:
		h.Failed(waitErr)
	default:
		h.Finished(exitCode)
	}
}

// AbortProcess kills the subprocess. It never blocks on the handle's lock:
// it is called with that lock held.
func (r *LocalRunner) AbortProcess() {
	r.mu.Lock()
	r.aborted = true
	h := r.h
	cmd := r.cmd
	exited := r.exited
	exitCode := r.exitCode
	r.mu.Unlock()

	if exited {
		// The detached process is already gone; deliver the terminal
		// transition directly.
		if h != nil {
			go h.Aborted(exitCode)
		}
		return
	}
	if cmd != nil {
		r.kill(cmd)
	}
}

func (r *LocalRunner) kill(cmd *osexec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("killing process", "process", r.displayName, "err", err)
	}
}

// exitCodeFor extracts an exit code from Wait's error. A signalled process
// reports 128+signal; a nil error is exit 0. known is false when the error
// is not an exit status at all (for example an I/O failure).
func exitCodeFor(waitErr error) (code int, known bool) {
	if waitErr == nil {
		return 0, true
	}
	var exitErr *osexec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return -1, false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), true
	}
	return exitErr.ExitCode(), true
}

// localProcess exposes a subprocess's stdio through the same pipe-backed
// surface the container adapter provides, so one stream router serves both.
type localProcess struct {
	stdin   io.WriteCloser
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
}

func newLocalProcess(stdin io.WriteCloser) *localProcess {
	p := &localProcess{stdin: stdin}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *localProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *localProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *localProcess) Stderr() io.Reader     { return p.stderrR }

func (p *localProcess) closeOutputs() {
	p.stdoutW.Close()
	p.stderrW.Close()
}
