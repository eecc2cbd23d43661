// Package chunkio moves single chunks of bytes over a byte-duplex channel.
package chunkio

import (
	"errors"
	"io"
)

// Mode selects how a chunk operation treats short transfers.
type Mode int

const (
	// ModeFull loops until the whole chunk is moved or the channel reports a
	// real error. Only the unsent remainder needs to be retried.
	ModeFull Mode = iota
	// ModeStrict issues exactly one Read or Write call. Anything short of the
	// full chunk is reported as a chunk failure and the whole chunk must be
	// retried, which can duplicate bytes on the wire after a partial write.
	ModeStrict
)

var (
	// ErrShortWrite indicates the channel accepted fewer bytes than requested.
	ErrShortWrite = errors.New("chunkio: short write")
	// ErrShortRead indicates the channel delivered fewer bytes than requested.
	ErrShortRead = errors.New("chunkio: short read")
	// ErrEmptyBuffer indicates a zero-length chunk buffer.
	ErrEmptyBuffer = errors.New("chunkio: empty chunk buffer")
)

// String returns the config name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	default:
		return "full"
	}
}

// ParseMode maps a config name to a Mode. Unknown names yield ModeFull.
func ParseMode(name string) (Mode, bool) {
	switch name {
	case "", "full":
		return ModeFull, true
	case "strict":
		return ModeStrict, true
	default:
		return ModeFull, false
	}
}

// SendChunk writes data to w. It returns the number of bytes the channel
// accepted; a nil error means all of data was written.
func SendChunk(w io.Writer, data []byte, mode Mode) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if mode == ModeStrict {
		n, err := w.Write(data)
		if err != nil {
			return n, err
		}
		if n != len(data) {
			return n, ErrShortWrite
		}
		return n, nil
	}

	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, ErrShortWrite
		}
	}
	return written, nil
}

// ReceiveChunk fills buf from r. A nil error means len(buf) bytes were read.
// A stream that ends before the first byte yields io.EOF; one that ends
// part-way yields io.ErrUnexpectedEOF (ModeFull) or ErrShortRead
// (ModeStrict).
func ReceiveChunk(r io.Reader, buf []byte, mode Mode) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyBuffer
	}
	if mode == ModeStrict {
		n, err := r.Read(buf)
		if n == len(buf) {
			return n, nil
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, ErrShortRead
			}
			return n, err
		}
		return n, ErrShortRead
	}
	return io.ReadFull(r, buf)
}

// ReceiveUpTo performs a single Read of at most len(buf) bytes. It returns
// (0, io.EOF) once the peer has finished sending. Data returned together with
// io.EOF is still valid.
func ReceiveUpTo(r io.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrEmptyBuffer
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := r.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

const maxEmptyReads = 100
