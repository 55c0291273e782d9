// Package client is the public entry point for running commands behind
// dockhand execution handles, locally or inside containers.
package client

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/execution"
	"github.com/jacek-lewandowski/dockhand/internal/cancellation"
	"github.com/jacek-lewandowski/dockhand/internal/dockerapi"
	"github.com/jacek-lewandowski/dockhand/internal/history"
	"github.com/jacek-lewandowski/dockhand/internal/paths"
	"github.com/jacek-lewandowski/dockhand/internal/runner"
	"github.com/jacek-lewandowski/dockhand/internal/runtimeconfig"
	"github.com/jacek-lewandowski/dockhand/internal/shutdown"
	"github.com/jacek-lewandowski/dockhand/internal/streams"
)

type Client struct {
	cfg    runtimeconfig.Config
	logger *log.Logger

	dockerMu      sync.Mutex
	docker        *dockerapi.Client
	dockerRuntime *runner.DockerRuntime
	store         *history.Store

	token *cancellation.Token
	hooks *shutdown.Registry
}

// Option configures the client.
type Option func(*options)

type options struct {
	config         *runtimeconfig.Config
	logger         *log.Logger
	historyPath    string
	disableHistory bool
	handleSignals  bool
	signals        []os.Signal
}

// WithConfig supplies a runtime config instead of loading the default file.
func WithConfig(cfg runtimeconfig.Config) Option {
	return func(o *options) { o.config = &cfg }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHistoryPath overrides the execution-history database location.
func WithHistoryPath(path string) Option {
	return func(o *options) { o.historyPath = path }
}

// WithoutHistory disables execution-history recording.
func WithoutHistory() Option {
	return func(o *options) { o.disableHistory = true }
}

// WithShutdownSignals aborts in-flight executions when one of the given
// signals (SIGINT/SIGTERM by default) arrives.
func WithShutdownSignals(sigs ...os.Signal) Option {
	return func(o *options) {
		o.handleSignals = true
		o.signals = sigs
	}
}

func New(opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.Default()
	}

	var cfg runtimeconfig.Config
	if o.config != nil {
		cfg = *o.config
	} else {
		loaded, path, err := runtimeconfig.Load()
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded runtime config", "path", path)
		cfg = loaded
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		token:  cancellation.NewToken(),
		hooks:  shutdown.NewRegistry(logger),
	}
	if o.handleSignals {
		c.hooks.Install(o.signals...)
	}

	if !o.disableHistory && !cfg.History.Disabled {
		dbPath := o.historyPath
		if dbPath == "" {
			dbPath = cfg.History.Path
		}
		if dbPath == "" {
			var err error
			dbPath, err = paths.HistoryDBPath()
			if err != nil {
				return nil, fmt.Errorf("resolve history database path: %w", err)
			}
		}
		store, err := history.Open(context.Background(), dbPath)
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	return c, nil
}

// Cancel requests cancellation of every running execution created by this
// client. Each affected handle is aborted exactly once.
func (c *Client) Cancel() {
	c.token.Cancel()
}

// Close detaches signal handling and releases the history database.
// Running executions are left alone.
func (c *Client) Close() error {
	c.hooks.Stop()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// History returns recent finished executions, newest first. It returns nil
// when history is disabled.
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.Recent(ctx, limit)
}

// Handle builds an execution handle for spec. The handle is in the init
// state; call Start on it (or use Run).
func (c *Client) Handle(spec Spec) (*execution.Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("spec is missing a command")
	}
	displayName := spec.DisplayName
	if displayName == "" {
		displayName = fmt.Sprintf("command '%s'", spec.Command)
	}

	backend, image, err := c.resolveBackend(spec)
	if err != nil {
		return nil, err
	}

	router := &streams.Router{
		Input:  &streams.ForwardInput{Source: spec.Stdin, Logger: c.logger},
		Output: &streams.ForwardOutput{Stdout: spec.Stdout, Stderr: spec.Stderr, Logger: c.logger},
	}

	var procRunner execution.ProcessRunner
	switch backend {
	case BackendLocal:
		procRunner = runner.NewLocalRunner(runner.LocalRunnerConfig{
			DisplayName: displayName,
			Streams:     router,
			Logger:      c.logger,
		})
	case BackendDocker:
		if err := c.ensureDocker(); err != nil {
			return nil, err
		}
		procRunner = runner.NewContainerRunner(runner.ContainerRunnerConfig{
			DisplayName: displayName,
			Client:      c.docker,
			Runtime:     c.dockerRuntime,
			Streams:     router,
			Image:       image,
			User:        c.cfg.Docker.User,
			Volumes:     c.cfg.Docker.Volumes,
			Logger:      c.logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	timeout := spec.Timeout
	if timeout == 0 && c.cfg.Execution.TimeoutSeconds > 0 {
		timeout = durationSeconds(c.cfg.Execution.TimeoutSeconds)
	}

	listeners := append([]execution.Listener(nil), spec.Listeners...)
	if c.store != nil {
		listeners = append(listeners, &historyListener{
			store:   c.store,
			runID:   runner.NewRunID(),
			backend: backend,
			logger:  c.logger,
		})
	}

	return execution.NewHandle(execution.HandleConfig{
		DisplayName:   displayName,
		Directory:     spec.Directory,
		Command:       spec.Command,
		Arguments:     spec.Arguments,
		Environment:   spec.Environment,
		Timeout:       timeout,
		Daemon:        spec.Daemon || c.cfg.Execution.Daemon,
		Runner:        procRunner,
		Listeners:     listeners,
		Cancellation:  c.token,
		ShutdownHooks: c.hooks,
		Logger:        c.logger,
	}), nil
}

// Run starts the execution described by spec and blocks until it finishes,
// returning the terminal result.
func (c *Client) Run(spec Spec) (execution.Result, error) {
	h, err := c.Handle(spec)
	if err != nil {
		return execution.Result{}, err
	}
	if err := h.Start(); err != nil {
		return execution.Result{}, err
	}
	if spec.Daemon || c.cfg.Execution.Daemon {
		return execution.Result{}, nil
	}
	return h.WaitForFinish()
}

func (c *Client) resolveBackend(spec Spec) (backend, image string, err error) {
	image = spec.Image
	if image == "" {
		image = c.cfg.Docker.Image
	}

	backend = spec.Backend
	if backend == "" {
		backend = c.cfg.DefaultBackend
	}
	if backend == "" {
		if image != "" {
			backend = BackendDocker
		} else {
			backend = BackendLocal
		}
	}
	if backend == BackendDocker && image == "" {
		return "", "", fmt.Errorf("docker backend requires an image (set docker.image or Spec.Image)")
	}
	return backend, image, nil
}

func (c *Client) ensureDocker() error {
	c.dockerMu.Lock()
	defer c.dockerMu.Unlock()
	if c.docker != nil {
		return nil
	}
	api, err := dockerapi.New(dockerapi.Options{Host: c.cfg.Docker.Host, Logger: c.logger})
	if err != nil {
		return err
	}
	c.docker = api
	c.dockerRuntime = runner.NewDockerRuntime(api, c.logger)
	return nil
}
