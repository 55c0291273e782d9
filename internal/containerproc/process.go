// Package containerproc presents one running container as a process with
// ordinary blocking stdin/stdout/stderr and wait semantics, bridging the
// runtime's asynchronous attach and wait-for-exit operations.
package containerproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// attachTimeout bounds how long construction waits for attach confirmation.
var attachTimeout = 10 * time.Second

// ErrStillRunning is returned by ExitValue before the container has exited.
var ErrStillRunning = errors.New("container process still running")

// StreamKind identifies which output stream a frame belongs to.
type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

// Frame is one demultiplexed chunk of container output.
type Frame struct {
	Kind    StreamKind
	Payload []byte
}

// Attachment is a live output stream from a container.
type Attachment interface {
	// Started is closed once streaming is established.
	Started() <-chan struct{}
	// Close detaches; the frame callback receives nothing after Done.
	Close() error
	// Done is closed once the streaming loop has fully wound down.
	Done() <-chan struct{}
}

// Runtime is the container-runtime surface the adapter needs. Attach and
// Wait are asynchronous: their callbacks run on goroutines owned by the
// runtime client.
type Runtime interface {
	// Attach begins streaming the container's combined stdout/stderr,
	// feeding stdin from the given reader, and invokes onFrame for every
	// output chunk.
	Attach(ctx context.Context, containerID string, stdin io.Reader, onFrame func(Frame)) (Attachment, error)
	// Wait arranges for onExit to be invoked exactly once with the
	// container's exit code.
	Wait(ctx context.Context, containerID string, onExit func(exitCode int)) error
	// Kill signals the container to terminate. It does not wait for the
	// resulting exit.
	Kill(ctx context.Context, containerID string) error
}

// Process adapts one running container to a process-shaped interface.
//
// Ordering guarantee: once WaitFor returns, the attach stream has fully
// drained, both output pipes are closed (readers observe end-of-stream) and
// the after-stop hook has run.
type Process struct {
	runtime     Runtime
	containerID string
	afterStop   func(ctx context.Context, containerID string) error
	logger      *log.Logger
	ctx         context.Context

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	attachment Attachment

	mu       sync.Mutex
	exitCode int

	done chan struct{}
}

// Config for New. AfterStop, when set, runs after the streams are closed and
// before the completion signal fires; its error is logged, not propagated.
type Config struct {
	Runtime     Runtime
	ContainerID string
	AfterStop   func(ctx context.Context, containerID string) error
	Logger      *log.Logger
}

// New attaches to an already-running container and registers the
// wait-for-exit callback. It blocks up to the attach bound for streaming to
// be established.
func New(ctx context.Context, cfg Config) (*Process, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	p := &Process{
		runtime:     cfg.Runtime,
		containerID: cfg.ContainerID,
		afterStop:   cfg.AfterStop,
		logger:      logger,
		ctx:         ctx,
		done:        make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	attachment, err := cfg.Runtime.Attach(ctx, cfg.ContainerID, p.stdinR, p.writeFrame)
	if err != nil {
		return nil, fmt.Errorf("attach to container %s: %w", cfg.ContainerID, err)
	}
	select {
	case <-attachment.Started():
	case <-time.After(attachTimeout):
		attachment.Close()
		return nil, fmt.Errorf("not attached to container %s within %s", cfg.ContainerID, attachTimeout)
	}
	p.attachment = attachment

	if err := cfg.Runtime.Wait(ctx, cfg.ContainerID, p.containerExited); err != nil {
		attachment.Close()
		return nil, fmt.Errorf("wait for container %s: %w", cfg.ContainerID, err)
	}
	return p, nil
}

// writeFrame runs on the runtime's streaming goroutine. Write failures are
// logged and swallowed so a broken reader cannot take down that goroutine.
func (p *Process) writeFrame(frame Frame) {
	var w *io.PipeWriter
	switch frame.Kind {
	case Stdout:
		w = p.stdoutW
	case Stderr:
		w = p.stderrW
	default:
		return
	}
	if _, err := w.Write(frame.Payload); err != nil {
		p.logger.Error("error while writing container output",
			"container", p.containerID, "err", err)
	}
}

// containerExited runs on the runtime's wait goroutine: record the exit
// code, detach and drain the attach stream, close the output pipes, run the
// after-stop hook, then release the completion signal.
func (p *Process) containerExited(exitCode int) {
	p.mu.Lock()
	p.exitCode = exitCode
	p.mu.Unlock()

	if err := p.attachment.Close(); err != nil {
		p.logger.Debug("error detaching streams", "container", p.containerID, "err", err)
	}
	<-p.attachment.Done()
	p.stdoutW.Close()
	p.stderrW.Close()

	if p.afterStop != nil {
		if err := p.afterStop(p.ctx, p.containerID); err != nil {
			p.logger.Debug("after-stop hook failed", "container", p.containerID, "err", err)
		}
	}
	close(p.done)
}

func (p *Process) ContainerID() string { return p.containerID }

// Stdin is the write end feeding the container's stdin.
func (p *Process) Stdin() io.WriteCloser { return p.stdinW }

// Stdout is the read end of the container's stdout.
func (p *Process) Stdout() io.Reader { return p.stdoutR }

// Stderr is the read end of the container's stderr.
func (p *Process) Stderr() io.Reader { return p.stderrR }

// WaitFor blocks until the container has exited and all streams are drained
// and closed, then returns the exit code.
func (p *Process) WaitFor() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// ExitValue returns the exit code, or ErrStillRunning before completion.
func (p *Process) ExitValue() (int, error) {
	select {
	case <-p.done:
	default:
		return 0, ErrStillRunning
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

// Destroy kills the container. It does not wait for the resulting exit;
// that is delivered through the wait callback like any other.
func (p *Process) Destroy() error {
	return p.runtime.Kill(p.ctx, p.containerID)
}

// Abandon kills the container and releases the stdio pipes. It is for the
// case where the streams will never be serviced: pending and future frame
// writes fail instead of blocking on readers that will never come, which
// lets the exit chain wind down in the background.
func (p *Process) Abandon() error {
	p.stdinW.Close()
	p.stdoutR.Close()
	p.stderrR.Close()
	return p.Destroy()
}

func (p *Process) String() string {
	return "container " + p.containerID
}
