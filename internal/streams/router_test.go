package streams

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type pipeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
}

func newPipeProcess() *pipeProcess {
	p := &pipeProcess{}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *pipeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *pipeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *pipeProcess) Stderr() io.Reader     { return p.stderrR }

type recordingHandler struct {
	name  string
	calls *[]string
	mu    *sync.Mutex
}

func (h *recordingHandler) record(op string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.calls = append(*h.calls, h.name+"."+op)
}

func (h *recordingHandler) Connect(Process, string) { h.record("connect") }
func (h *recordingHandler) Start()                  { h.record("start") }
func (h *recordingHandler) Stop()                   { h.record("stop") }

func TestRouterDrivesInputBeforeOutput(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	router := &Router{
		Input:  &recordingHandler{name: "input", calls: &calls, mu: &mu},
		Output: &recordingHandler{name: "output", calls: &calls, mu: &mu},
	}

	router.Connect(newPipeProcess(), "command 'x'")
	router.Start()
	router.Stop()

	want := []string{
		"input.connect", "output.connect",
		"input.start", "output.start",
		"input.stop", "output.stop",
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected call order %v, got %v", want, calls)
		}
	}
}

func TestForwardInputCopiesSourceAndClosesStdin(t *testing.T) {
	proc := newPipeProcess()
	input := &ForwardInput{Source: strings.NewReader("payload")}
	input.Connect(proc, "command 'cat'")
	input.Start()

	data, err := io.ReadAll(proc.stdinR)
	if err != nil {
		t.Fatalf("reading forwarded stdin: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected %q, got %q", "payload", data)
	}
}

func TestForwardInputWithoutSourceClosesStdinImmediately(t *testing.T) {
	proc := newPipeProcess()
	input := &ForwardInput{}
	input.Connect(proc, "command 'cat'")
	input.Start()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(proc.stdinR)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean end-of-stream on stdin, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stdin was not closed")
	}
}

func TestForwardOutputStopWaitsForDrain(t *testing.T) {
	proc := newPipeProcess()
	var stdout, stderr bytes.Buffer
	output := &ForwardOutput{Stdout: &stdout, Stderr: &stderr}
	output.Connect(proc, "command 'ls'")
	output.Start()

	go func() {
		proc.stdoutW.Write([]byte("listing"))
		proc.stderrW.Write([]byte("warning"))
		proc.stdoutW.Close()
		proc.stderrW.Close()
	}()

	output.Stop()
	if stdout.String() != "listing" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
	if stderr.String() != "warning" {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestForwardOutputDiscardsWhenWritersAreNil(t *testing.T) {
	proc := newPipeProcess()
	output := &ForwardOutput{}
	output.Connect(proc, "command 'ls'")
	output.Start()

	go func() {
		proc.stdoutW.Write([]byte("dropped"))
		proc.stdoutW.Close()
		proc.stderrW.Close()
	}()
	output.Stop()
}
