package client

import (
	"io"
	"time"

	"github.com/jacek-lewandowski/dockhand/execution"
)

// Backend selects where a command runs.
const (
	BackendDocker = "docker"
	BackendLocal  = "local"
)

// Spec describes one command to execute.
type Spec struct {
	// DisplayName labels the execution in logs, errors and history. When
	// empty a name is derived from the command.
	DisplayName string

	Command   string
	Arguments []string

	// Directory is the working directory: on the host for local runs,
	// inside the container for docker runs.
	Directory   string
	Environment map[string]string

	// Backend is "docker" or "local". Empty selects the configured default,
	// falling back to docker when an image is configured and local
	// otherwise.
	Backend string

	// Image overrides the configured container image for this run.
	Image string

	// Timeout is carried on the handle and surfaced via its accessor.
	Timeout time.Duration

	// Daemon detaches from the execution once it has started.
	Daemon bool

	// Stdio wiring. A nil Stdin closes the process's stdin immediately;
	// nil writers discard.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Listeners observe the execution's lifecycle.
	Listeners []execution.Listener
}
