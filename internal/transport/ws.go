package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sheerbytes/paceline/internal/transfer"
)

// DefaultWSPath is the HTTP path sessions are upgraded on.
const DefaultWSPath = "/transfer"

const wsControlTimeout = 5 * time.Second

var (
	_ transfer.Stream  = (*wsStream)(nil)
	_ transfer.Aborter = (*wsStream)(nil)
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
	ReadBufferSize:   32 * 1024,
	WriteBufferSize:  32 * 1024,
}

// WSListener turns upgraded HTTP requests into session streams. It can be
// mounted on any router through ServeHTTP or served standalone by ListenWS.
type WSListener struct {
	logger *slog.Logger
	addr   net.Addr
	srv    *http.Server

	streams   chan acceptedWS
	done      chan struct{}
	closeOnce sync.Once
}

type acceptedWS struct {
	stream *wsStream
	remote net.Addr
}

// NewWSListener returns a listener fed by ServeHTTP.
func NewWSListener(addr net.Addr, logger *slog.Logger) *WSListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSListener{
		logger:  logger,
		addr:    addr,
		streams: make(chan acceptedWS),
		done:    make(chan struct{}),
	}
}

// ListenWS serves the WebSocket transport on its own HTTP listener.
func ListenWS(ctx context.Context, addr string, opts Options) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen ws %s: %w", addr, err)
	}

	l := NewWSListener(ln.Addr(), opts.logger())
	r := chi.NewRouter()
	r.Get(opts.wsPath(), l.ServeHTTP)
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", "error", err)
		}
	}()
	l.logger.Info("WebSocket listener created", "local_addr", ln.Addr(), "path", opts.wsPath())
	return l, nil
}

// ServeHTTP upgrades the request and hands the stream to Accept.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		l.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	a := acceptedWS{stream: newWSStream(conn), remote: conn.RemoteAddr()}
	select {
	case l.streams <- a:
	case <-l.done:
		_ = a.stream.Close()
	case <-r.Context().Done():
		_ = a.stream.Close()
	}
}

func (l *WSListener) Accept(ctx context.Context) (transfer.Stream, net.Addr, error) {
	select {
	case a := <-l.streams:
		return a.stream, a.remote, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-l.done:
		return nil, nil, ErrListenerClosed
	}
}

func (l *WSListener) Addr() net.Addr  { return l.addr }
func (l *WSListener) Network() string { return NetworkWS }

func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.srv != nil {
			err = l.srv.Close()
		}
	})
	return err
}

// DialWS connects to a WebSocket listener. addr is either host:port or a full
// ws:// or wss:// URL.
func DialWS(ctx context.Context, addr string, opts Options) (transfer.Stream, error) {
	wsURL, err := buildWSURL(addr, opts.wsPath())
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("dial ws %s: %w", wsURL, err)
	}
	return newWSStream(conn), nil
}

func buildWSURL(addr, path string) (string, error) {
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		if u.Path == "" {
			u.Path = path
		}
		return u.String(), nil
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	return u.String(), nil
}

// wsStream carries a session as binary messages. A close frame is the
// end-of-payload marker.
type wsStream struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu     sync.Mutex
	writeClosed bool

	closeOnce sync.Once
	closeErr  error
}

func newWSStream(conn *websocket.Conn) *wsStream {
	// A received close frame only ends the peer's direction. Ours closes
	// with CloseWrite or Close.
	conn.SetCloseHandler(func(int, string) error { return nil })
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				return 0, mapWSError(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeClosed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, mapWSError(err)
	}
	return len(p), nil
}

// CloseWrite sends a normal close frame. The peer reads io.EOF and may keep
// sending until it closes its own side.
func (s *wsStream) CloseWrite() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeClosed {
		return nil
	}
	s.writeClosed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// Close drops the connection. If CloseWrite has not sent the normal close
// frame, a going-away frame tells the peer the payload is incomplete.
func (s *wsStream) Close() error {
	return s.closeWith(websocket.CloseGoingAway, "closed before end of payload")
}

// Abort closes with an internal-error status, which the peer reads as an
// error rather than io.EOF. After CloseWrite the peer has already seen EOF.
func (s *wsStream) Abort() error {
	return s.closeWith(websocket.CloseInternalServerErr, "session aborted")
}

func (s *wsStream) closeWith(code int, text string) error {
	s.closeOnce.Do(func() {
		// A writer blocked on a stalled peer holds writeMu; skip the close
		// frame rather than wait for it.
		if s.writeMu.TryLock() {
			if !s.writeClosed {
				s.writeClosed = true
				msg := websocket.FormatCloseMessage(code, text)
				_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsControlTimeout))
			}
			s.writeMu.Unlock()
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// mapWSError reports the normal close frame sent by CloseWrite as io.EOF.
// Every other close code means the peer gave up on the payload.
func mapWSError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return io.EOF
	}
	if websocket.IsCloseError(err, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %w", transfer.ErrPeerClosed, err)
	}
	return err
}
