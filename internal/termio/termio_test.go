package termio

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConcurrentWritesStayWhole(t *testing.T) {
	var out lockedBuffer
	w := NewWriter(&out)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				fmt.Fprintf(w, "writer %d line %d\n", g, i)
			}
		}()
	}
	wg.Wait()
	w.Flush()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("got %d lines, want 400", len(lines))
	}
	for _, line := range lines {
		var g, i int
		if _, err := fmt.Sscanf(line, "writer %d line %d", &g, &i); err != nil {
			t.Fatalf("torn line %q: %v", line, err)
		}
	}
}

func TestWriteCopiesBuffer(t *testing.T) {
	var out lockedBuffer
	w := NewWriter(&out)

	p := []byte("first")
	if _, err := w.Write(p); err != nil {
		t.Fatalf("write: %v", err)
	}
	copy(p, "XXXXX")
	w.Flush()
	if got := out.String(); got != "first" {
		t.Fatalf("got %q, want %q", got, "first")
	}
}

func TestNonFileIsNotTerminal(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	if w.File() != nil || w.IsTerminal() {
		t.Fatalf("buffer-backed writer reported a terminal")
	}
}
