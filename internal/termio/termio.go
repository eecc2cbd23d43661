// Package termio funnels terminal output from concurrent goroutines through
// one writer goroutine per destination, so prompts, progress bars and printed
// files never interleave inside a single Write.
package termio

import (
	"io"
	"os"
	"sync"
)

type request struct {
	buf  []byte
	done chan struct{}
}

// Writer queues writes and applies them in order on its own goroutine.
type Writer struct {
	out  io.Writer
	file *os.File
	ch   chan request
}

// NewWriter starts a Writer over out.
func NewWriter(out io.Writer) *Writer {
	w := &Writer{out: out, ch: make(chan request, 1024)}
	if f, ok := out.(*os.File); ok {
		w.file = f
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	for req := range w.ch {
		if req.done != nil {
			close(req.done)
			continue
		}
		_, _ = w.out.Write(req.buf)
	}
}

// Write copies p and queues it. It never blocks on the terminal itself.
func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- request{buf: buf}
	return len(p), nil
}

// Flush returns once every write queued before it has been applied.
func (w *Writer) Flush() {
	done := make(chan struct{})
	w.ch <- request{done: done}
	<-done
}

// File returns the underlying file, or nil when the Writer wraps something
// else.
func (w *Writer) File() *os.File {
	return w.file
}

// IsTerminal reports whether the Writer ends at a character device.
func (w *Writer) IsTerminal() bool {
	if w.file == nil {
		return false
	}
	info, err := w.file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

var (
	once   sync.Once
	stdout *Writer
	stderr *Writer
)

func initStd() {
	once.Do(func() {
		stdout = NewWriter(os.Stdout)
		stderr = NewWriter(os.Stderr)
	})
}

// Stdout returns the process-wide stdout Writer.
func Stdout() *Writer {
	initStd()
	return stdout
}

// Stderr returns the process-wide stderr Writer.
func Stderr() *Writer {
	initStd()
	return stderr
}

// Flush drains stdout and stderr. Call it before the process exits.
func Flush() {
	initStd()
	stdout.Flush()
	stderr.Flush()
}
