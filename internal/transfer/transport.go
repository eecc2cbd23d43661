package transfer

import (
	"io"
)

// Stream is a bidirectional byte channel carrying one transfer session.
// The payload has no framing: the sender marks the end of a file by closing
// its write side, which the receiver observes as io.EOF.
type Stream interface {
	io.Reader
	io.Writer
	// CloseWrite half-closes the stream. The peer reads io.EOF once it has
	// consumed everything written before the call; reads on this side keep
	// working.
	CloseWrite() error
	// Close tears down both directions. Read and Write fail afterwards.
	// Without a prior CloseWrite the peer reads an error, never io.EOF.
	Close() error
}

// Aborter is implemented by streams that can end a session with an error the
// peer can tell apart from a clean io.EOF.
type Aborter interface {
	Abort() error
}
