// Package protocol defines the session header exchanged at the start of every
// paceline connection.
//
// A session opens with a single header:
//
//	+------+----------------------+------------------+
//	| op   | path length (8 bytes,| path (UTF-8,     |
//	| 1 B  | native byte order)   | length bytes)    |
//	+------+----------------------+------------------+
//
// The file payload follows the header unframed. The sender ends it by
// half-closing its side of the stream.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/sheerbytes/paceline/internal/chunkio"
)

// Op is the session operation requested by the client.
type Op byte

const (
	// OpStore uploads a file to the server.
	OpStore Op = 'S'
	// OpRetrieve downloads a file from the server.
	OpRetrieve Op = 'R'
)

// MaxPathLen bounds the path carried in a header.
const MaxPathLen = 4096

const lenFieldSize = 8

var (
	ErrMalformedHeader = errors.New("protocol: malformed header")
	ErrUnknownOp       = errors.New("protocol: unknown operation")
	ErrPathTooLong     = errors.New("protocol: path too long")
)

// String returns the op name used in logs and metrics.
func (o Op) String() string {
	switch o {
	case OpStore:
		return "store"
	case OpRetrieve:
		return "retrieve"
	default:
		return fmt.Sprintf("op(%#x)", byte(o))
	}
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	return o == OpStore || o == OpRetrieve
}

// Header opens a session. An empty Path asks the server to pick a name.
type Header struct {
	Op   Op
	Path string
}

// MarshalBinary encodes h.
func (h Header) MarshalBinary() ([]byte, error) {
	if !h.Op.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOp, h.Op)
	}
	if err := validatePath(h.Path); err != nil {
		return nil, err
	}
	buf := make([]byte, 1+lenFieldSize+len(h.Path))
	buf[0] = byte(h.Op)
	binary.NativeEndian.PutUint64(buf[1:1+lenFieldSize], uint64(len(h.Path)))
	copy(buf[1+lenFieldSize:], h.Path)
	return buf, nil
}

// WriteHeader writes h to w in one piece.
func WriteHeader(w io.Writer, h Header) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := chunkio.SendChunk(w, buf, chunkio.ModeFull); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// ReadHeader reads one header from r. It consumes exactly the header bytes,
// leaving the payload unread.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [1 + lenFieldSize]byte
	if _, err := chunkio.ReceiveChunk(r, fixed[:], chunkio.ModeFull); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}

	h := Header{Op: Op(fixed[0])}
	if !h.Op.Valid() {
		return Header{}, fmt.Errorf("%w: %s", ErrUnknownOp, h.Op)
	}

	n := binary.NativeEndian.Uint64(fixed[1:])
	if n > MaxPathLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPathTooLong, n)
	}
	if n == 0 {
		return h, nil
	}

	path := make([]byte, n)
	if _, err := chunkio.ReceiveChunk(r, path, chunkio.ModeFull); err != nil {
		return Header{}, fmt.Errorf("%w: path: %w", ErrMalformedHeader, err)
	}
	h.Path = string(path)
	if err := validatePath(h.Path); err != nil {
		return Header{}, err
	}
	return h, nil
}

func validatePath(p string) error {
	if len(p) > MaxPathLen {
		return fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(p))
	}
	if !utf8.ValidString(p) || strings.IndexByte(p, 0) >= 0 {
		return fmt.Errorf("%w: path is not valid UTF-8 text", ErrMalformedHeader)
	}
	return nil
}
