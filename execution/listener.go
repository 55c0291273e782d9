package execution

// Listener observes lifecycle events of a handle. Listeners are invoked
// synchronously, in registration order, on whichever goroutine triggers the
// transition.
//
// An error returned from ExecutionFinished replaces the execution's own
// failure in the published Result. That precedence is long-standing observed
// behaviour and is kept as-is; see DESIGN.md.
type Listener interface {
	ExecutionStarted(h *Handle) error
	ExecutionFinished(h *Handle, result Result) error
}

// ProcessRunner performs the actual launch, locally or against a container
// runtime, and drives the handle callbacks (Started, Finished, Aborted,
// Failed, Detached). AbortProcess requests termination of the underlying
// execution; the runner reports the resulting exit through Aborted.
type ProcessRunner interface {
	Run(h *Handle)
	AbortProcess()
	String() string
}
