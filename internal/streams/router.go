// Package streams connects a process's stdio to the caller's readers and
// writers.
package streams

import "io"

// Process is the stdio surface of a launched process, local or container.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
}

// Handler wires one direction of a process's stdio. Connect binds the
// handler to a process, Start begins moving bytes, Stop blocks until the
// handler has flushed and released its resources.
type Handler interface {
	Connect(p Process, processName string)
	Start()
	Stop()
}

// Router composes an input handler and an output handler into one unit. The
// input handler is always driven first, for connect, start and stop alike;
// the order is not configurable.
type Router struct {
	Input  Handler
	Output Handler
}

func (r *Router) Connect(p Process, processName string) {
	r.Input.Connect(p, processName)
	r.Output.Connect(p, processName)
}

func (r *Router) Start() {
	r.Input.Start()
	r.Output.Start()
}

func (r *Router) Stop() {
	r.Input.Stop()
	r.Output.Stop()
}
