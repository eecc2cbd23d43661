package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/sheerbytes/paceline/internal/transfer"
)

// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for
// paceline over QUIC.
const ALPNProtocol = "paceline-quic-v1"

// streamAcceptTimeout bounds how long a new connection may take to open its
// session stream.
const streamAcceptTimeout = 10 * time.Second

// abortCode tells the peer the session failed. Code 0 is a clean close.
const abortCode = 1

// closeGrace bounds how long an accepted stream that has sent its FIN waits
// for the peer to hang up before closing. Closing the connection discards
// stream data the peer has not received yet.
const closeGrace = 5 * time.Second

var (
	_ transfer.Stream  = (*quicStream)(nil)
	_ transfer.Aborter = (*quicStream)(nil)
)

// ServerTLSConfig returns a TLS configuration with a fresh self-signed
// certificate. Clients do not verify it.
func ServerTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig returns the TLS configuration used to dial QUIC servers.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"paceline"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

type acceptedStream struct {
	stream *quicStream
	remote net.Addr
}

type quicListener struct {
	ln     *quic.Listener
	udp    *net.UDPConn
	logger *slog.Logger

	streams   chan acceptedStream
	done      chan struct{}
	closeOnce sync.Once
}

// ListenQUIC listens for QUIC connections on a UDP address. Each connection
// carries one session on its first bidirectional stream.
func ListenQUIC(ctx context.Context, addr string, opts Options) (Listener, error) {
	logger := opts.logger()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	if res := ApplyUDPBuffers(udpConn, opts.UDPBuffer); res.Status != StatusOK {
		logger.Debug("udp buffer tuning", "status", res.Status, "requested", res.RequestedR, "error", res.Err)
	}

	tlsConf, err := ServerTLSConfig()
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}
	quicConf, tune := BuildQUICConfig(baseQUICConfig(), opts.QUICConnWindow, opts.QUICStreamWindow)

	ln, err := quic.Listen(udpConn, tlsConf, quicConf)
	if err != nil {
		_ = udpConn.Close()
		logger.Error("QUIC listen failed", "error", err, "local_addr", udpConn.LocalAddr())
		return nil, err
	}
	logger.Info("QUIC listener created",
		"local_addr", udpConn.LocalAddr(),
		"conn_window", tune.ConnWin,
		"stream_window", tune.StreamWin,
	)

	l := &quicListener{
		ln:      ln,
		udp:     udpConn,
		logger:  logger,
		streams: make(chan acceptedStream),
		done:    make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			select {
			case <-l.done:
			default:
				l.logger.Error("QUIC accept failed", "error", err)
			}
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), streamAcceptTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("QUIC connection opened no stream", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = conn.CloseWithError(abortCode, "no session stream")
		return
	}
	l.logger.Debug("QUIC stream accepted", "remote_addr", conn.RemoteAddr(), "stream_id", stream.StreamID())

	select {
	case l.streams <- acceptedStream{stream: &quicStream{conn: conn, stream: stream, waitPeer: true}, remote: conn.RemoteAddr()}:
	case <-l.done:
		_ = conn.CloseWithError(0, "listener closed")
	}
}

func (l *quicListener) Accept(ctx context.Context) (transfer.Stream, net.Addr, error) {
	select {
	case a := <-l.streams:
		return a.stream, a.remote, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-l.done:
		return nil, nil, ErrListenerClosed
	}
}

func (l *quicListener) Addr() net.Addr  { return l.ln.Addr() }
func (l *quicListener) Network() string { return NetworkQUIC }

func (l *quicListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.ln.Close()
		if udpErr := l.udp.Close(); err == nil {
			err = udpErr
		}
	})
	return err
}

// DialQUIC connects to a QUIC listener and opens the session stream.
func DialQUIC(ctx context.Context, addr string, opts Options) (transfer.Stream, error) {
	logger := opts.logger()
	quicConf, _ := BuildQUICConfig(baseQUICConfig(), opts.QUICConnWindow, opts.QUICStreamWindow)

	conn, err := quic.DialAddr(ctx, addr, ClientTLSConfig(), quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(abortCode, "open stream failed")
		return nil, fmt.Errorf("open quic stream: %w", err)
	}
	logger.Debug("QUIC connection established", "remote_addr", conn.RemoteAddr(), "stream_id", stream.StreamID())
	return &quicStream{conn: conn, stream: stream}, nil
}

// quicStream is a session stream that owns its connection. The accepting
// side lets the dialer close the connection first.
type quicStream struct {
	conn     *quic.Conn
	stream   *quic.Stream
	waitPeer bool
	finSent  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (s *quicStream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	return n, mapQUICError(err)
}

func (s *quicStream) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	return n, mapQUICError(err)
}

// CloseWrite sends FIN on the stream. Unlike CancelWrite it keeps data
// already written.
func (s *quicStream) CloseWrite() error {
	s.finSent.Store(true)
	return s.stream.Close()
}

// Close closes the connection. An accepted stream that has sent its FIN
// first waits up to closeGrace for the peer to close; if it does not, the
// close carries abortCode since the payload may not have arrived.
func (s *quicStream) Close() error {
	s.closeOnce.Do(func() {
		var code quic.ApplicationErrorCode
		msg := ""
		if s.waitPeer && s.finSent.Load() {
			timer := time.NewTimer(closeGrace)
			select {
			case <-s.conn.Context().Done():
			case <-timer.C:
				code, msg = abortCode, "peer did not hang up"
			}
			timer.Stop()
		}
		s.stream.CancelRead(0)
		s.closeErr = s.conn.CloseWithError(code, msg)
	})
	return s.closeErr
}

// Abort resets both directions and closes the connection with a non-zero
// code, which the peer reads as an error rather than io.EOF.
func (s *quicStream) Abort() error {
	s.closeOnce.Do(func() {
		s.stream.CancelWrite(abortCode)
		s.stream.CancelRead(abortCode)
		s.closeErr = s.conn.CloseWithError(abortCode, "session aborted")
	})
	return s.closeErr
}

// mapQUICError marks a peer's clean connection close. Only the stream FIN
// ends a payload: a connection closed before it may have discarded data in
// flight, so it is never reported as io.EOF.
func mapQUICError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
		return fmt.Errorf("%w: %w", transfer.ErrPeerClosed, err)
	}
	return err
}
