package shutdown

import (
	"syscall"
	"testing"
	"time"
)

func TestFireRunsActionsOnceInOrder(t *testing.T) {
	registry := NewRegistry(nil)

	var ran []string
	registry.AddCallback(func() { ran = append(ran, "first") })
	registry.AddCallback(func() { ran = append(ran, "second") })

	registry.Fire()
	registry.Fire()

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("expected one ordered run, got %v", ran)
	}
}

func TestRemovedActionDoesNotRun(t *testing.T) {
	registry := NewRegistry(nil)

	ran := false
	remove := registry.AddCallback(func() { ran = true })
	remove()
	remove()

	registry.Fire()
	if ran {
		t.Fatal("removed action must not run")
	}
}

func TestActionMayRemoveItselfDuringFire(t *testing.T) {
	registry := NewRegistry(nil)

	var remove func()
	remove = registry.AddCallback(func() { remove() })

	// Must not deadlock.
	registry.Fire()
}

func TestAddCallbackAfterFireIsDiscarded(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Fire()

	ran := false
	remove := registry.AddCallback(func() { ran = true })
	remove()
	remove()

	registry.Fire()
	if ran {
		t.Fatal("action registered after fire must never run")
	}
}

func TestSignalFiresRegistry(t *testing.T) {
	registry := NewRegistry(nil)
	defer registry.Stop()

	fired := make(chan struct{})
	registry.AddCallback(func() { close(fired) })
	registry.Install(syscall.SIGUSR1)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("sending signal: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("registry did not fire on signal")
	}
}

func TestStopWithoutInstallIsSafe(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Stop()
}
