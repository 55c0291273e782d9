package containerproc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeAttachment struct {
	started chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newFakeAttachment(confirm bool) *fakeAttachment {
	a := &fakeAttachment{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if confirm {
		close(a.started)
	}
	return a
}

func (a *fakeAttachment) Started() <-chan struct{} { return a.started }
func (a *fakeAttachment) Done() <-chan struct{}    { return a.done }

func (a *fakeAttachment) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

type fakeRuntime struct {
	confirmAttach bool

	mu        sync.Mutex
	onFrame   func(Frame)
	onExit    func(int)
	att       *fakeAttachment
	killCalls int
}

func (r *fakeRuntime) Attach(_ context.Context, _ string, _ io.Reader, onFrame func(Frame)) (Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = onFrame
	r.att = newFakeAttachment(r.confirmAttach)
	return r.att, nil
}

func (r *fakeRuntime) Wait(_ context.Context, _ string, onExit func(int)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExit = onExit
	return nil
}

func (r *fakeRuntime) Kill(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killCalls++
	return nil
}

func (r *fakeRuntime) emit(frame Frame) {
	r.mu.Lock()
	onFrame := r.onFrame
	r.mu.Unlock()
	onFrame(frame)
}

func (r *fakeRuntime) exit(code int) {
	r.mu.Lock()
	onExit := r.onExit
	r.mu.Unlock()
	onExit(code)
}

func (r *fakeRuntime) kills() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killCalls
}

func newTestProcess(t *testing.T, rt *fakeRuntime, afterStop func(context.Context, string) error) *Process {
	t.Helper()
	p, err := New(context.Background(), Config{
		Runtime:     rt,
		ContainerID: "cafebabe",
		AfterStop:   afterStop,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return p
}

func TestStreamsAreBridgedAndDrainedBeforeWaitReturns(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}
	p := newTestProcess(t, rt, nil)

	type readResult struct {
		data string
		err  error
	}
	readAll := func(r io.Reader) chan readResult {
		ch := make(chan readResult, 1)
		go func() {
			b, err := io.ReadAll(r)
			ch <- readResult{data: string(b), err: err}
		}()
		return ch
	}
	stdoutCh := readAll(p.Stdout())
	stderrCh := readAll(p.Stderr())

	rt.emit(Frame{Kind: Stdout, Payload: []byte("hello ")})
	rt.emit(Frame{Kind: Stdout, Payload: []byte("world")})
	rt.emit(Frame{Kind: Stderr, Payload: []byte("oops")})

	go rt.exit(2)
	if code := p.WaitFor(); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}

	// Both streams observe end-of-stream no later than WaitFor returning.
	select {
	case res := <-stdoutCh:
		if res.err != nil || res.data != "hello world" {
			t.Fatalf("unexpected stdout: %q, %v", res.data, res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("stdout reader did not observe end-of-stream")
	}
	select {
	case res := <-stderrCh:
		if res.err != nil || res.data != "oops" {
			t.Fatalf("unexpected stderr: %q, %v", res.data, res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("stderr reader did not observe end-of-stream")
	}
}

func TestWaitForIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}
	p := newTestProcess(t, rt, nil)

	go io.Copy(io.Discard, p.Stdout())
	go io.Copy(io.Discard, p.Stderr())
	go rt.exit(7)

	if code := p.WaitFor(); code != 7 {
		t.Fatalf("expected 7, got %d", code)
	}
	if code := p.WaitFor(); code != 7 {
		t.Fatalf("expected repeated WaitFor to return 7, got %d", code)
	}
}

func TestExitValueBeforeCompletionFails(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}
	p := newTestProcess(t, rt, nil)

	if _, err := p.ExitValue(); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected ErrStillRunning, got %v", err)
	}

	go io.Copy(io.Discard, p.Stdout())
	go io.Copy(io.Discard, p.Stderr())
	rt.exit(3)

	code, err := p.ExitValue()
	if err != nil || code != 3 {
		t.Fatalf("expected exit value 3 after completion, got %d, %v", code, err)
	}
}

func TestAttachConfirmationTimeout(t *testing.T) {
	restore := attachTimeout
	attachTimeout = 30 * time.Millisecond
	defer func() { attachTimeout = restore }()

	rt := &fakeRuntime{confirmAttach: false}
	_, err := New(context.Background(), Config{Runtime: rt, ContainerID: "deadbeef"})
	if err == nil || !strings.Contains(err.Error(), "deadbeef") {
		t.Fatalf("expected attach timeout naming the container, got %v", err)
	}
}

func TestDestroyKillsWithoutWaiting(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}
	p := newTestProcess(t, rt, nil)

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	if rt.kills() != 1 {
		t.Fatalf("expected one kill, got %d", rt.kills())
	}
	// Destroy must not complete the process by itself.
	if _, err := p.ExitValue(); !errors.Is(err, ErrStillRunning) {
		t.Fatalf("expected process still running after Destroy, got %v", err)
	}
}

func TestAbandonUnblocksPendingWrites(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}
	p := newTestProcess(t, rt, nil)

	// Nobody reads the output pipes, so this write blocks until Abandon
	// releases them.
	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		rt.emit(Frame{Kind: Stdout, Payload: []byte("never read")})
	}()

	// Give the writer time to block on the pipe before releasing it.
	time.Sleep(50 * time.Millisecond)
	if err := p.Abandon(); err != nil {
		t.Fatalf("Abandon returned error: %v", err)
	}
	select {
	case <-wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("frame write stayed blocked after Abandon")
	}
	if rt.kills() != 1 {
		t.Fatalf("expected one kill, got %d", rt.kills())
	}
}

func TestAfterStopRunsBeforeCompletionSignal(t *testing.T) {
	rt := &fakeRuntime{confirmAttach: true}

	var mu sync.Mutex
	hookRan := false
	p := newTestProcess(t, rt, func(context.Context, string) error {
		mu.Lock()
		hookRan = true
		mu.Unlock()
		return errors.New("hook failure is swallowed")
	})

	go io.Copy(io.Discard, p.Stdout())
	go io.Copy(io.Discard, p.Stderr())
	rt.exit(0)

	if code := p.WaitFor(); code != 0 {
		t.Fatalf("expected 0, got %d", code)
	}
	mu.Lock()
	defer mu.Unlock()
	if !hookRan {
		t.Fatal("expected after-stop hook to run before WaitFor returned")
	}
}
