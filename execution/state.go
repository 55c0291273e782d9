package execution

// State tracks where a handle is in its lifecycle.
//
// Allowed flows:
//   - Init -> Starting -> Started -> Succeeded|Failed|Aborted|Detached
//   - Init -> Starting -> Failed
//   - Detached -> Aborted
//
// Succeeded, Failed and Aborted are terminal. Detached is reachable only
// from Started and leaves the underlying process running; an explicit
// Abort moves it to Aborted.
type State int

const (
	StateInit State = iota
	StateStarting
	StateStarted
	StateDetached
	StateSucceeded
	StateFailed
	StateAborted
)

// IsTerminal reports whether no further transition can occur.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateAborted:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateDetached:
		return "detached"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}
