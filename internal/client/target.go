package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a target names no port.
const DefaultPort = 8080

// ErrInvalidTarget indicates a target string that is not host[:port]:path.
var ErrInvalidTarget = errors.New("invalid target")

// Target is a remote file: a server address and a path under its storage
// root. A Path ending in "/" names a directory. An empty Path lets the server
// choose (a derived name on store, its default file on retrieve).
type Target struct {
	Host string
	Port int
	Path string
}

// Addr returns host:port, bracketing IPv6 hosts.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Addr() + ":" + t.Path
}

// IsDir reports whether Path names a remote directory.
func (t Target) IsDir() bool {
	return strings.HasSuffix(t.Path, "/")
}

// ParseTarget parses "host[:port]:path". IPv6 hosts must be bracketed:
// "[::1]:9000:notes.txt" or "[::1]:notes.txt".
func ParseTarget(s string) (Target, error) {
	var host, rest string
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return Target{}, fmt.Errorf("%w %q: missing ']'", ErrInvalidTarget, s)
		}
		host, rest = s[1:end], s[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return Target{}, fmt.Errorf("%w %q: expected ':' after host", ErrInvalidTarget, s)
		}
		rest = rest[1:]
	} else {
		i := strings.IndexByte(s, ':')
		if i < 0 {
			return Target{}, fmt.Errorf("%w %q: expected host[:port]:path", ErrInvalidTarget, s)
		}
		host, rest = s[:i], s[i+1:]
	}
	if host == "" {
		return Target{}, fmt.Errorf("%w %q: empty host", ErrInvalidTarget, s)
	}

	t := Target{Host: host, Port: DefaultPort, Path: rest}
	if j := strings.IndexByte(rest, ':'); j > 0 && isDigits(rest[:j]) {
		port, err := strconv.Atoi(rest[:j])
		if err != nil || port < 1 || port > 65535 {
			return Target{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidTarget, s, rest[:j])
		}
		t.Port = port
		t.Path = rest[j+1:]
	}
	return t, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
