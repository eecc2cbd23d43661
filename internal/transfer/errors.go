package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies why a transfer failed.
type Kind string

const (
	// KindIO: a local file could not be opened, read or written.
	KindIO Kind = "io"
	// KindPermission: the destination directory is not writable.
	KindPermission Kind = "permission"
	// KindNetwork: a channel operation failed after exhausting retries, or
	// the transfer was cancelled.
	KindNetwork Kind = "network"
	// KindProtocol: the session header was malformed or missing.
	KindProtocol Kind = "protocol"
	// KindDurability: the completed temp file could not be renamed into
	// place.
	KindDurability Kind = "durability"
)

var (
	// ErrEmptyFilename indicates a receive without a destination file name.
	ErrEmptyFilename = errors.New("empty destination filename")
	// ErrNotWritable indicates the destination directory rejected a probe
	// write.
	ErrNotWritable = errors.New("destination directory not writable")
	// ErrStreamAborted is what the peer of an aborted MockStream reads.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrPeerClosed indicates the peer closed the stream without first
	// closing its write side, so whatever it sent is incomplete.
	ErrPeerClosed = errors.New("peer closed the stream before the end of payload")
)

// Error is the error returned by the engine and the session handlers.
type Error struct {
	Kind Kind
	Op   string // "send", "receive", "header", ...
	Path string
	Err  error
}

// NewError wraps err with a kind, operation and path.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
