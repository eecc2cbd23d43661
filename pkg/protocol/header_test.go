package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{name: "store with path", header: Header{Op: OpStore, Path: "docs/report.txt"}},
		{name: "retrieve with path", header: Header{Op: OpRetrieve, Path: "file_to_send.txt"}},
		{name: "store without path", header: Header{Op: OpStore}},
		{name: "unicode path", header: Header{Op: OpRetrieve, Path: "données/日本.txt"}},
		{name: "max length path", header: Header{Op: OpStore, Path: strings.Repeat("a", MaxPathLen)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteHeader(&buf, tt.header); err != nil {
				t.Fatalf("WriteHeader() error = %v", err)
			}
			if buf.Len() != 1+lenFieldSize+len(tt.header.Path) {
				t.Fatalf("encoded length = %d, want %d", buf.Len(), 1+lenFieldSize+len(tt.header.Path))
			}

			got, err := ReadHeader(iotest.OneByteReader(&buf))
			if err != nil {
				t.Fatalf("ReadHeader() error = %v", err)
			}
			if got != tt.header {
				t.Errorf("ReadHeader() = %+v, want %+v", got, tt.header)
			}
		})
	}
}

func TestHeaderLeavesPayloadUnread(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, Header{Op: OpStore, Path: "a.txt"}); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("payload bytes")

	if _, err := ReadHeader(&buf); err != nil {
		t.Fatal(err)
	}
	rest, _ := io.ReadAll(&buf)
	if string(rest) != "payload bytes" {
		t.Fatalf("payload = %q", rest)
	}
}

func TestHeaderWireLayout(t *testing.T) {
	b, err := Header{Op: OpRetrieve, Path: "xy"}.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 'R' {
		t.Errorf("op byte = %q, want 'R'", b[0])
	}
	if n := binary.NativeEndian.Uint64(b[1:9]); n != 2 {
		t.Errorf("length field = %d, want 2", n)
	}
	if string(b[9:]) != "xy" {
		t.Errorf("path bytes = %q", b[9:])
	}
}

func TestReadHeaderErrors(t *testing.T) {
	lengthPrefixed := func(op byte, n uint64, path string) []byte {
		b := make([]byte, 1+lenFieldSize)
		b[0] = op
		binary.NativeEndian.PutUint64(b[1:], n)
		return append(b, path...)
	}

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "empty stream", input: nil, wantErr: ErrMalformedHeader},
		{name: "op only", input: []byte{'S'}, wantErr: ErrMalformedHeader},
		{name: "truncated length", input: []byte{'S', 1, 0}, wantErr: ErrMalformedHeader},
		{name: "unknown op", input: lengthPrefixed('X', 0, ""), wantErr: ErrUnknownOp},
		{name: "path too long", input: lengthPrefixed('S', MaxPathLen+1, ""), wantErr: ErrPathTooLong},
		{name: "huge length", input: lengthPrefixed('S', 1<<63, ""), wantErr: ErrPathTooLong},
		{name: "truncated path", input: lengthPrefixed('R', 10, "abc"), wantErr: ErrMalformedHeader},
		{name: "invalid utf8", input: lengthPrefixed('R', 2, "\xff\xfe"), wantErr: ErrMalformedHeader},
		{name: "nul in path", input: lengthPrefixed('R', 3, "a\x00b"), wantErr: ErrMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(bytes.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadHeader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteHeaderRejectsInvalid(t *testing.T) {
	if err := WriteHeader(io.Discard, Header{Op: 'Q'}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("unknown op: error = %v", err)
	}
	long := Header{Op: OpStore, Path: strings.Repeat("p", MaxPathLen+1)}
	if err := WriteHeader(io.Discard, long); !errors.Is(err, ErrPathTooLong) {
		t.Errorf("long path: error = %v", err)
	}
}

func TestOpString(t *testing.T) {
	if OpStore.String() != "store" || OpRetrieve.String() != "retrieve" {
		t.Errorf("unexpected names %q %q", OpStore, OpRetrieve)
	}
	if got := Op('Z').String(); got != "op(0x5a)" {
		t.Errorf("Op('Z').String() = %q", got)
	}
}
