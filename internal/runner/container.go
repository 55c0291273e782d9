// Package runner launches executions on behalf of a handle, either inside a
// container or as a local subprocess, and drives the handle's lifecycle
// callbacks.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/execution"
	"github.com/jacek-lewandowski/dockhand/internal/containerproc"
	"github.com/jacek-lewandowski/dockhand/internal/dockerapi"
	"github.com/jacek-lewandowski/dockhand/internal/streams"
)

// Hooks are optional extension points around the container lifecycle.
// BeforeCreate may mutate the creation config. AfterStop runs inside the
// container process's exit chain; its error is logged, not propagated.
type Hooks struct {
	BeforeCreate func(ctx context.Context, cfg *dockerapi.CreateConfig) error
	AfterCreate  func(ctx context.Context, containerID string) error
	BeforeStart  func(ctx context.Context, containerID string) error
	AfterStart   func(ctx context.Context, containerID string) error
	AfterStop    func(ctx context.Context, containerID string) error
}

type ContainerRunnerConfig struct {
	DisplayName string
	Client      Client
	Runtime     containerproc.Runtime
	Streams     *streams.Router

	Image   string
	User    string
	Volumes map[string]string
	Hooks   Hooks

	Logger *log.Logger
}

// ContainerRunner runs one execution inside a freshly created container.
type ContainerRunner struct {
	displayName string
	client      Client
	runtime     containerproc.Runtime
	streams     *streams.Router
	image       string
	user        string
	volumes     map[string]string
	hooks       Hooks
	logger      *log.Logger

	mu          sync.Mutex
	h           *execution.Handle
	aborted     bool
	exited      bool
	exitCode    int
	proc        *containerproc.Process
	containerID string
}

func NewContainerRunner(cfg ContainerRunnerConfig) *ContainerRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ContainerRunner{
		displayName: cfg.DisplayName,
		client:      cfg.Client,
		runtime:     cfg.Runtime,
		streams:     cfg.Streams,
		image:       cfg.Image,
		user:        cfg.User,
		volumes:     cfg.Volumes,
		hooks:       cfg.Hooks,
		logger:      logger,
	}
}

func (r *ContainerRunner) String() string {
	return fmt.Sprintf("container runner for %q", r.displayName)
}

// Run is invoked on the task executor's goroutine. Any failure on the way
// up is delivered through Failed; it is never raised on this goroutine.
func (r *ContainerRunner) Run(h *execution.Handle) {
	ctx := context.Background()

	r.mu.Lock()
	r.h = h
	r.mu.Unlock()

	proc, err := r.runContainer(ctx, h)
	if err != nil {
		h.Failed(err)
		return
	}

	r.mu.Lock()
	r.proc = proc
	abortedEarly := r.aborted
	r.mu.Unlock()
	if abortedEarly {
		if err := proc.Destroy(); err != nil {
			r.logger.Warn("killing container after early abort", "container", proc.ContainerID(), "err", err)
		}
	}

	r.streams.Connect(proc, h.DisplayName())
	if err := h.Started(); err != nil {
		// The streams were never started; abandon the process so the
		// container does not keep running against pipes nobody reads.
		if aerr := proc.Abandon(); aerr != nil {
			r.logger.Warn("killing container after failed start notification",
				"container", proc.ContainerID(), "err", aerr)
		}
		h.Failed(err)
		return
	}
	r.streams.Start()

	if h.Daemon() {
		proc.Stdin().Close()
		h.Detached()
		// Keep watching the detached container so a later abort still
		// reaches a terminal state. A natural exit leaves the handle
		// detached; nobody is listening anymore.
		go func() {
			exitCode := proc.WaitFor()
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

	exitCode := proc.WaitFor()
	r.streams.Stop()

	r.mu.Lock()
	wasAborted := r.aborted
	r.mu.Unlock()
	if wasAborted {
		h.Aborted(exitCode)
	} else {
		h.Finished(exitCode)
	}
}

// AbortProcess kills the container if it is already running; otherwise it
// marks the runner aborted so the container is killed as soon as it exists.
// It never blocks on the handle's lock: it is called with that lock held.
func (r *ContainerRunner) AbortProcess() {
	r.mu.Lock()
	r.aborted = true
	h := r.h
	proc := r.proc
	exited := r.exited
	exitCode := r.exitCode
	r.mu.Unlock()

	if exited {
		// The detached container is already gone; deliver the terminal
		// transition directly.
		if h != nil {
			go h.Aborted(exitCode)
		}
		return
	}
	if proc != nil {
		if err := proc.Destroy(); err != nil {
			r.logger.Warn("killing container", "container", proc.ContainerID(), "err", err)
		}
	}
}

// runContainer creates, prepares and starts the container, then wraps it in
// a process adapter: create (image, command, env, user, binds) ->
// copy @-option files -> start -> inspect (must be running) -> attach/wait.
func (r *ContainerRunner) runContainer(ctx context.Context, h *execution.Handle) (*containerproc.Process, error) {
	cfg := dockerapi.CreateConfig{
		Name:       newContainerName(),
		Image:      r.image,
		Cmd:        append([]string{h.Command()}, h.Arguments()...),
		Env:        envList(h.Environment()),
		WorkingDir: h.Directory(),
		User:       r.user,
		OpenStdin:  true,
		StdinOnce:  true,
		TTY:        false,
		Binds:      bindList(r.volumes),
	}
	if r.hooks.BeforeCreate != nil {
		if err := r.hooks.BeforeCreate(ctx, &cfg); err != nil {
			return nil, fmt.Errorf("before-create hook: %w", err)
		}
	}

	containerID, err := r.client.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.containerID = containerID
	r.mu.Unlock()
	r.logger.Debug("created container", "process", r.displayName, "container", containerID, "image", r.image)

	if r.hooks.AfterCreate != nil {
		if err := r.hooks.AfterCreate(ctx, containerID); err != nil {
			return nil, fmt.Errorf("after-create hook: %w", err)
		}
	}

	if err := copyOptionFiles(ctx, r.client, containerID, h.Arguments(), r.logger); err != nil {
		return nil, err
	}

	if r.hooks.BeforeStart != nil {
		if err := r.hooks.BeforeStart(ctx, containerID); err != nil {
			return nil, fmt.Errorf("before-start hook: %w", err)
		}
	}
	if err := r.client.StartContainer(ctx, containerID); err != nil {
		return nil, err
	}
	if r.hooks.AfterStart != nil {
		if err := r.hooks.AfterStart(ctx, containerID); err != nil {
			return nil, fmt.Errorf("after-start hook: %w", err)
		}
	}

	detail, err := r.client.InspectContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if !detail.State.Running {
		return nil, fmt.Errorf("container %s not running", containerID)
	}

	return containerproc.New(ctx, containerproc.Config{
		Runtime:     r.runtime,
		ContainerID: containerID,
		AfterStop:   r.hooks.AfterStop,
		Logger:      r.logger,
	})
}
