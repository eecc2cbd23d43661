package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sheerbytes/paceline/internal/transfer"
)

var (
	_ transfer.Stream  = (*tcpStream)(nil)
	_ transfer.Aborter = (*tcpStream)(nil)
)

type tcpListener struct {
	ln *net.TCPListener
}

// ListenTCP listens for plain TCP sessions.
func ListenTCP(ctx context.Context, addr string) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &tcpListener{ln: ln.(*net.TCPListener)}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (transfer.Stream, net.Addr, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()

	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrListenerClosed
		}
		return nil, nil, err
	}
	_ = conn.SetNoDelay(true)
	return newTCPStream(conn), conn.RemoteAddr(), nil
}

func (l *tcpListener) Addr() net.Addr  { return l.ln.Addr() }
func (l *tcpListener) Network() string { return NetworkTCP }
func (l *tcpListener) Close() error    { return l.ln.Close() }

// DialTCP connects to a TCP listener.
func DialTCP(ctx context.Context, addr string) (transfer.Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	tc := conn.(*net.TCPConn)
	_ = tc.SetNoDelay(true)
	return newTCPStream(tc), nil
}

// tcpStream is a TCP connection whose read errors are sticky. Linux reports
// a reset once and then returns EOF, which would pass a truncated payload
// off as complete. Only CloseWrite sends a FIN; Close before it resets.
type tcpStream struct {
	*net.TCPConn

	mu          sync.Mutex
	readErr     error
	writeClosed bool
}

func newTCPStream(conn *net.TCPConn) *tcpStream {
	return &tcpStream{TCPConn: conn}
}

func (s *tcpStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	sticky := s.readErr
	s.mu.Unlock()
	if sticky != nil {
		return 0, sticky
	}

	n, err := s.TCPConn.Read(p)
	if err != nil && err != io.EOF {
		s.mu.Lock()
		if s.readErr == nil {
			s.readErr = err
		}
		s.mu.Unlock()
	}
	return n, err
}

// CloseWrite sends FIN, the end-of-payload marker.
func (s *tcpStream) CloseWrite() error {
	s.mu.Lock()
	s.writeClosed = true
	s.mu.Unlock()
	return s.TCPConn.CloseWrite()
}

// Close closes the connection. Without a prior CloseWrite the payload is
// incomplete, so the peer gets a reset rather than a FIN.
func (s *tcpStream) Close() error {
	s.mu.Lock()
	finished := s.writeClosed
	s.mu.Unlock()
	if !finished {
		return s.Abort()
	}
	return s.TCPConn.Close()
}

// Abort resets the connection so the peer sees an error instead of EOF.
func (s *tcpStream) Abort() error {
	_ = s.TCPConn.SetLinger(0)
	return s.TCPConn.Close()
}
