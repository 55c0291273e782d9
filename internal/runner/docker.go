package runner

import (
	"context"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/internal/containerproc"
	"github.com/jacek-lewandowski/dockhand/internal/dockerapi"
)

// Client is the container-management surface the container runner uses.
// *dockerapi.Client satisfies it; tests provide stubs.
type Client interface {
	CreateContainer(ctx context.Context, cfg dockerapi.CreateConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	InspectContainer(ctx context.Context, containerID string) (dockerapi.ContainerDetail, error)
	KillContainer(ctx context.Context, containerID, signal string) error
	CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader) error
}

// DockerRuntime adapts the engine API client to the asynchronous runtime
// surface the container process adapter consumes.
type DockerRuntime struct {
	api    *dockerapi.Client
	logger *log.Logger
}

func NewDockerRuntime(api *dockerapi.Client, logger *log.Logger) *DockerRuntime {
	if logger == nil {
		logger = log.Default()
	}
	return &DockerRuntime{api: api, logger: logger}
}

func (r *DockerRuntime) Attach(ctx context.Context, containerID string, stdin io.Reader, onFrame func(containerproc.Frame)) (containerproc.Attachment, error) {
	stream, err := r.api.AttachContainer(ctx, containerID, dockerapi.AttachOptions{
		Stream: true,
		Stdin:  stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, err
	}

	a := &dockerAttachment{
		stream:  stream,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	// The hijacked connection is established synchronously; streaming is
	// confirmed as soon as the upgrade succeeds.
	close(a.started)

	go func() {
		defer close(a.done)
		err := dockerapi.ReadFrames(stream, func(f dockerapi.Frame) {
			switch f.Stream {
			case dockerapi.StreamStdout:
				onFrame(containerproc.Frame{Kind: containerproc.Stdout, Payload: f.Payload})
			case dockerapi.StreamStderr:
				onFrame(containerproc.Frame{Kind: containerproc.Stderr, Payload: f.Payload})
			}
		})
		if err != nil {
			r.logger.Debug("attach stream ended", "container", containerID, "err", err)
		}
	}()

	if stdin != nil {
		go func() {
			if _, err := io.Copy(stream, stdin); err != nil {
				r.logger.Debug("stdin stream ended", "container", containerID, "err", err)
			}
			if err := stream.CloseWrite(); err != nil {
				r.logger.Debug("half-closing attach stream", "container", containerID, "err", err)
			}
		}()
	}

	return a, nil
}

func (r *DockerRuntime) Wait(ctx context.Context, containerID string, onExit func(int)) error {
	go func() {
		exitCode, err := r.api.WaitContainer(ctx, containerID)
		if err != nil {
			r.logger.Error("waiting for container failed", "container", containerID, "err", err)
			exitCode = -1
		}
		onExit(exitCode)
	}()
	return nil
}

func (r *DockerRuntime) Kill(ctx context.Context, containerID string) error {
	return r.api.KillContainer(ctx, containerID, "KILL")
}

type dockerAttachment struct {
	stream  *dockerapi.AttachStream
	started chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (a *dockerAttachment) Started() <-chan struct{} { return a.started }
func (a *dockerAttachment) Done() <-chan struct{}    { return a.done }

func (a *dockerAttachment) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.stream.Close()
	})
	return a.closeErr
}
