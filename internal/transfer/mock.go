package transfer

import (
	"io"
	"sync"
)

// MockStream is one end of an in-memory stream pair, backed by io.Pipe. It is
// used by tests and by in-process loopback sessions.
type MockStream struct {
	mu          sync.Mutex
	reader      *io.PipeReader
	writer      *io.PipeWriter
	closed      bool
	writeClosed bool
}

var _ Stream = (*MockStream)(nil)

// NewMockPair returns two connected streams: bytes written to one are read
// from the other.
func NewMockPair() (*MockStream, *MockStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &MockStream{reader: r1, writer: w2}, &MockStream{reader: r2, writer: w1}
}

// Read reads from the peer's write side.
func (s *MockStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Write blocks until the peer has read all of p.
func (s *MockStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed || s.writeClosed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.mu.Unlock()
	return s.writer.Write(p)
}

// CloseWrite makes the peer read io.EOF.
func (s *MockStream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeClosed {
		return nil
	}
	s.writeClosed = true
	return s.writer.Close()
}

// Close closes both directions. If CloseWrite was not called first the peer
// reads ErrPeerClosed.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.writeClosed {
		s.writeClosed = true
		_ = s.writer.CloseWithError(ErrPeerClosed)
	}
	return s.reader.Close()
}

var _ Aborter = (*MockStream)(nil)

// Abort implements Aborter.
func (s *MockStream) Abort() error {
	s.AbortWith(ErrStreamAborted)
	return nil
}

// AbortWith fails both directions with err, as a connection reset would. The
// peer's reads return err instead of io.EOF.
func (s *MockStream) AbortWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.writeClosed = true
	_ = s.writer.CloseWithError(err)
	_ = s.reader.CloseWithError(err)
}
