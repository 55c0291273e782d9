package streams

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// ForwardInput copies Source into the process's stdin and closes stdin when
// the source is exhausted. A nil Source closes stdin immediately on Start,
// signalling the process that no input is coming.
type ForwardInput struct {
	Source io.Reader
	Logger *log.Logger

	proc Process
	name string
	done chan struct{}
}

func (f *ForwardInput) Connect(p Process, processName string) {
	f.proc = p
	f.name = processName
}

func (f *ForwardInput) Start() {
	f.done = make(chan struct{})
	stdin := f.proc.Stdin()
	go func() {
		defer close(f.done)
		if f.Source != nil {
			if _, err := io.Copy(stdin, f.Source); err != nil {
				f.logger().Debug("stdin forwarding ended", "process", f.name, "err", err)
			}
		}
		if err := stdin.Close(); err != nil {
			f.logger().Debug("closing stdin", "process", f.name, "err", err)
		}
	}()
}

// Stop closes the process's stdin write end. It does not wait for a blocked
// Source read; the copy goroutine winds down once the source yields.
func (f *ForwardInput) Stop() {
	if f.proc != nil {
		_ = f.proc.Stdin().Close()
	}
}

func (f *ForwardInput) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return log.Default()
}

// ForwardOutput copies the process's stdout and stderr into the supplied
// writers. Stop blocks until both streams have observed end-of-stream.
type ForwardOutput struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger

	proc Process
	name string
	wg   sync.WaitGroup
}

func (f *ForwardOutput) Connect(p Process, processName string) {
	f.proc = p
	f.name = processName
}

func (f *ForwardOutput) Start() {
	f.wg.Add(2)
	go f.drain(f.proc.Stdout(), f.Stdout, "stdout")
	go f.drain(f.proc.Stderr(), f.Stderr, "stderr")
}

func (f *ForwardOutput) drain(src io.Reader, dst io.Writer, stream string) {
	defer f.wg.Done()
	if dst == nil {
		dst = io.Discard
	}
	if _, err := io.Copy(dst, src); err != nil {
		f.logger().Debug("output forwarding ended", "process", f.name, "stream", stream, "err", err)
	}
}

func (f *ForwardOutput) Stop() {
	f.wg.Wait()
}

func (f *ForwardOutput) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return log.Default()
}
