package execution

import "fmt"

// Result is the immutable terminal outcome of one execution. It is recorded
// exactly once, immediately before the handle reaches a terminal (or
// detached) state.
type Result struct {
	exitValue   int
	failure     error
	displayName string
}

func newResult(exitValue int, failure error, displayName string) Result {
	return Result{exitValue: exitValue, failure: failure, displayName: displayName}
}

// ExitValue returns the recorded exit code.
func (r Result) ExitValue() int {
	return r.exitValue
}

// Failure returns the wrapped failure, or nil when the execution produced a
// plain exit code.
func (r Result) Failure() error {
	return r.failure
}

// AssertNormalExitValue accepts every exit value. Exit-code conventions
// inside a container differ from local-process conventions, so callers that
// care must inspect ExitValue themselves.
func (r Result) AssertNormalExitValue() error {
	return nil
}

// RethrowFailure surfaces the wrapped failure to the caller. It returns nil
// when the execution terminated without one.
func (r Result) RethrowFailure() error {
	return r.failure
}

func (r Result) String() string {
	return fmt.Sprintf("{exitValue=%d, failure=%v}", r.exitValue, r.failure)
}
