// Package shutdown keeps a registry of actions to run when the process is
// asked to exit, so in-flight executions can be aborted instead of leaking
// containers.
package shutdown

import (
	"os"
	"os/signal"
	"sync"

	"github.com/charmbracelet/log"
)

type Registry struct {
	logger *log.Logger

	mu      sync.Mutex
	fired   bool
	nextID  int
	order   []int
	actions map[int]func()

	installOnce sync.Once
	signals     chan os.Signal
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{logger: logger, actions: make(map[int]func())}
}

// AddCallback registers an action to run on shutdown and returns a function
// removing the registration. The remove function is safe to call multiple
// times and after Fire. Once the registry has fired there is no shutdown
// left to hook into, so the action is discarded and the remove is a no-op.
func (r *Registry) AddCallback(action func()) (remove func()) {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.order = append(r.order, id)
	r.actions[id] = action
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.actions, id)
	}
}

// Install starts listening for the given signals (SIGINT and SIGTERM when
// none are given) and fires the registry when one arrives. It may be called
// at most usefully once; later calls are ignored.
func (r *Registry) Install(sigs ...os.Signal) {
	r.installOnce.Do(func() {
		if len(sigs) == 0 {
			sigs = []os.Signal{os.Interrupt}
		}
		r.signals = make(chan os.Signal, 2)
		signal.Notify(r.signals, sigs...)
		go func() {
			sig, ok := <-r.signals
			if !ok {
				return
			}
			r.logger.Debug("shutdown signal received", "signal", sig)
			r.Fire()
		}()
	})
}

// Fire runs all registered actions once, in registration order. Actions run
// outside the registry's lock so they may remove registrations.
func (r *Registry) Fire() {
	r.mu.Lock()
	if r.fired {
		r.mu.Unlock()
		return
	}
	r.fired = true
	actions := make([]func(), 0, len(r.actions))
	for _, id := range r.order {
		if action, ok := r.actions[id]; ok {
			actions = append(actions, action)
		}
	}
	r.actions = make(map[int]func())
	r.order = nil
	r.mu.Unlock()

	for _, action := range actions {
		action()
	}
}

// Stop detaches the registry from signal delivery.
func (r *Registry) Stop() {
	r.mu.Lock()
	ch := r.signals
	r.signals = nil
	r.mu.Unlock()
	if ch != nil {
		signal.Stop(ch)
		close(ch)
	}
}
