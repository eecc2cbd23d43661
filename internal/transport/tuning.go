package transport

import (
	"net"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

// Tuning outcomes.
const (
	StatusOK     = "ok"
	StatusNA     = "n/a"
	StatusDenied = "denied"
)

const (
	defaultQUICConnWindow   = 64 * 1024 * 1024
	defaultQUICStreamWindow = 16 * 1024 * 1024
	defaultInitialConnWin   = 2 * 1024 * 1024
	minQUICConnWindow       = 1 * 1024 * 1024
	maxQUICConnWindow       = 1024 * 1024 * 1024
	minQUICStreamWindow     = 1 * 1024 * 1024
	maxQUICStreamWindow     = 256 * 1024 * 1024

	// One stream per connection is all a session uses; a few spare ones
	// keep a misbehaving peer from stalling on the stream limit.
	quicMaxIncomingStreams = 4

	defaultUDPBuffer = 8 * 1024 * 1024
	minUDPBuffer     = 256 * 1024
	maxUDPBuffer     = 64 * 1024 * 1024
)

// QUICTuneResult reports the windows a QUIC config ended up with.
type QUICTuneResult struct {
	ConnWin   int
	StreamWin int
	Status    string
}

// BuildQUICConfig copies base (or a fresh config) and applies clamped
// flow-control windows. Zero windows take the defaults.
func BuildQUICConfig(base *quic.Config, connWin, streamWin int) (*quic.Config, QUICTuneResult) {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}
	if connWin == 0 {
		connWin = defaultQUICConnWindow
	}
	if streamWin == 0 {
		streamWin = defaultQUICStreamWindow
	}

	conn := clamp(connWin, minQUICConnWindow, maxQUICConnWindow)
	stream := clamp(streamWin, minQUICStreamWindow, maxQUICStreamWindow)
	initialConn := min(defaultInitialConnWin, conn)

	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(stream)
	cfg.MaxStreamReceiveWindow = uint64(stream)

	return cfg, QUICTuneResult{ConnWin: conn, StreamWin: stream, Status: StatusOK}
}

// baseQUICConfig is shared by listeners and dialers.
func baseQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:         10 * time.Second,
		MaxIdleTimeout:          30 * time.Second,
		DisablePathMTUDiscovery: true,
		MaxIncomingStreams:      quicMaxIncomingStreams,
	}
}

// UDPTuneResult reports what socket buffers were requested and whether the
// kernel accepted them.
type UDPTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// ApplyUDPBuffers sets the socket buffers of conn on a best-effort basis.
func ApplyUDPBuffers(conn *net.UDPConn, size int) UDPTuneResult {
	if size == 0 {
		size = defaultUDPBuffer
	}
	req := clamp(size, minUDPBuffer, maxUDPBuffer)
	result := UDPTuneResult{RequestedR: req, RequestedW: req, Status: StatusOK}
	if conn == nil {
		result.Status = StatusNA
		result.Err = "no access to underlying UDPConn"
		return result
	}

	var errs []string
	if err := conn.SetReadBuffer(req); err != nil {
		errs = append(errs, "read: "+err.Error())
	}
	if err := conn.SetWriteBuffer(req); err != nil {
		errs = append(errs, "write: "+err.Error())
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
