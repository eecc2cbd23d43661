// Package session tracks one client connection from header to teardown.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/paceline/internal/transfer"
	"github.com/sheerbytes/paceline/pkg/protocol"
)

// DefaultLinger bounds how long Finish waits for the peer to close.
const DefaultLinger = 5 * time.Second

// Session is a single connection. It is owned by exactly one worker task,
// which must call Close when done.
type Session struct {
	ID        string
	Remote    string
	Transport string
	StartedAt time.Time

	Stream transfer.Stream

	mu   sync.Mutex
	op   string
	path string

	closeOnce sync.Once
	closeErr  error
}

// New wraps a freshly accepted stream.
func New(stream transfer.Stream, remote net.Addr, transport string) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Transport: transport,
		StartedAt: time.Now(),
		Stream:    stream,
	}
	if remote != nil {
		s.Remote = remote.String()
	}
	return s
}

// SetHeader records the parsed session header.
func (s *Session) SetHeader(h protocol.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op = h.Op.String()
	s.path = h.Path
}

// Info returns the session's public metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Op:        s.op,
		Path:      s.path,
		Remote:    s.Remote,
		Transport: s.Transport,
		StartedAt: s.StartedAt,
	}
}

// LogAttrs returns the attributes every session log line carries.
func (s *Session) LogAttrs() []any {
	return []any{"session", s.ID, "remote", s.Remote, "transport", s.Transport}
}

// Finish signals the end of our payload and waits for the peer to hang up,
// so that buffered data reaches it before the connection is torn down. The
// wait ends after linger even if the peer keeps the stream open.
func (s *Session) Finish(ctx context.Context, linger time.Duration) error {
	if err := s.Stream.CloseWrite(); err != nil {
		return err
	}
	if linger <= 0 {
		linger = DefaultLinger
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, s.Stream)
		done <- err
	}()

	timer := time.NewTimer(linger)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, transfer.ErrPeerClosed) {
			return err
		}
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Stream.Close()
	})
	return s.closeErr
}

// Abort ends the session so the peer sees a failure rather than a clean end
// of payload. Streams without abort support are closed normally.
func (s *Session) Abort() error {
	s.closeOnce.Do(func() {
		if a, ok := s.Stream.(transfer.Aborter); ok {
			s.closeErr = a.Abort()
			return
		}
		s.closeErr = s.Stream.Close()
	})
	return s.closeErr
}

// Store is a thread-safe registry of live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Add registers s.
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Remove forgets the session with the given ID.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Get returns the session with the given ID.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Snapshot returns copies of the live sessions' metadata, oldest first.
func (st *Store) Snapshot() []Info {
	st.mu.RLock()
	out := make([]Info, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s.Info())
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// AbortAll aborts every live session and returns how many there were. Peers
// of an interrupted transfer read an error, never a clean end of payload.
func (st *Store) AbortAll() int {
	st.mu.RLock()
	live := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		live = append(live, s)
	}
	st.mu.RUnlock()

	for _, s := range live {
		_ = s.Abort()
	}
	return len(live)
}

// Info is the public view of a session.
type Info struct {
	ID        string    `json:"session_id"`
	Op        string    `json:"op,omitempty"`
	Path      string    `json:"path,omitempty"`
	Remote    string    `json:"remote"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"started_at"`
}
