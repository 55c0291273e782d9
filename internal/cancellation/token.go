// Package cancellation provides a token that external drivers use to request
// cancellation of in-flight executions. Callbacks registered on the token are
// invoked once, on the goroutine that calls Cancel.
package cancellation

import "sync"

type Token struct {
	mu        sync.Mutex
	cancelled bool
	nextID    int
	order     []int
	callbacks map[int]func()
}

func NewToken() *Token {
	return &Token{callbacks: make(map[int]func())}
}

// AddCallback registers fn to run when cancellation is requested and returns
// a function that removes the registration. If cancellation has already been
// requested, fn is scheduled immediately on its own goroutine and the
// returned remove is a no-op. Scheduling rather than invoking keeps a caller
// that registers while holding its own locks from deadlocking against them.
// The remove function is safe to call multiple times.
func (t *Token) AddCallback(fn func()) (remove func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		go fn()
		return func() {}
	}
	id := t.nextID
	t.nextID++
	t.order = append(t.order, id)
	t.callbacks[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.callbacks, id)
	}
}

// Cancel marks the token cancelled and runs the registered callbacks in
// registration order. Subsequent calls are no-ops. Callbacks run outside the
// token's lock so they may remove registrations (their own included).
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	fns := make([]func(), 0, len(t.callbacks))
	for _, id := range t.order {
		if fn, ok := t.callbacks[id]; ok {
			fns = append(fns, fn)
		}
	}
	t.callbacks = make(map[int]func())
	t.order = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Requested reports whether cancellation has been requested.
func (t *Token) Requested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
