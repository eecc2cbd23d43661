// Package transport provides the byte-duplex channels sessions run over:
// plain TCP, QUIC streams and WebSocket connections.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/sheerbytes/paceline/internal/transfer"
)

// Network names accepted by Listen and Dial.
const (
	NetworkTCP  = "tcp"
	NetworkQUIC = "quic"
	NetworkWS   = "ws"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener accepts one stream per client session.
type Listener interface {
	Accept(ctx context.Context) (transfer.Stream, net.Addr, error)
	Addr() net.Addr
	Network() string
	Close() error
}

// Options tune listeners and dialers. Zero values take defaults.
type Options struct {
	Logger *slog.Logger
	// QUIC flow-control windows and UDP socket buffers, in bytes.
	QUICConnWindow   int
	QUICStreamWindow int
	UDPBuffer        int
	// WSPath is the HTTP path the WebSocket transport is served on.
	WSPath string
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) wsPath() string {
	if o.WSPath != "" {
		return o.WSPath
	}
	return DefaultWSPath
}

// Networks lists the supported network names.
func Networks() []string {
	return []string{NetworkTCP, NetworkQUIC, NetworkWS}
}

// ValidNetwork reports whether name is a supported network.
func ValidNetwork(name string) bool {
	switch strings.ToLower(name) {
	case NetworkTCP, NetworkQUIC, NetworkWS:
		return true
	}
	return false
}

// Listen opens a listener for network on addr.
func Listen(ctx context.Context, network, addr string, opts Options) (Listener, error) {
	switch strings.ToLower(network) {
	case NetworkTCP:
		return ListenTCP(ctx, addr)
	case NetworkQUIC:
		return ListenQUIC(ctx, addr, opts)
	case NetworkWS:
		return ListenWS(ctx, addr, opts)
	default:
		return nil, fmt.Errorf("transport: unknown network %q", network)
	}
}

// Dial opens a stream to addr over network.
func Dial(ctx context.Context, network, addr string, opts Options) (transfer.Stream, error) {
	switch strings.ToLower(network) {
	case NetworkTCP:
		return DialTCP(ctx, addr)
	case NetworkQUIC:
		return DialQUIC(ctx, addr, opts)
	case NetworkWS:
		return DialWS(ctx, addr, opts)
	default:
		return nil, fmt.Errorf("transport: unknown network %q", network)
	}
}
