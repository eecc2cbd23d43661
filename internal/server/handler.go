package server

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sheerbytes/paceline/internal/session"
	"github.com/sheerbytes/paceline/internal/transfer"
	"github.com/sheerbytes/paceline/pkg/protocol"
)

// errDirectoryPath rejects a store or retrieve path that names a directory.
var errDirectoryPath = errors.New("path names a directory")

// sessionTask runs one session on a pool worker. The task owns the session
// and closes it on every path.
type sessionTask struct {
	server *Server
	sess   *session.Session
}

func (t *sessionTask) Run(ctx context.Context) {
	s, sess := t.server, t.sess
	logger := s.logger.With(sess.LogAttrs()...)
	defer func() {
		_ = sess.Close()
		s.sessions.Remove(sess.ID)
	}()

	h, err := protocol.ReadHeader(sess.Stream)
	if err != nil {
		err = transfer.NewError(transfer.KindProtocol, "header", "", err)
		logger.Warn("invalid session header", "error", err)
		_ = sess.Abort()
		return
	}
	sess.SetHeader(h)
	s.metrics.SessionStarted(h.Op.String(), sess.Transport)

	switch h.Op {
	case protocol.OpStore:
		err = s.store(ctx, sess, h.Path)
	case protocol.OpRetrieve:
		err = s.retrieve(ctx, sess, h.Path)
	}
	if err != nil {
		logger.Error("session failed", "op", h.Op, "path", h.Path, "kind", transfer.KindOf(err), "error", err)
		_ = sess.Abort()
		return
	}
	logger.Info("session completed", "op", h.Op, "path", sess.Info().Path)
}

// store receives the client's payload into the storage root, then ends the
// session cleanly so the client can tell a stored file from a failure.
func (s *Server) store(ctx context.Context, sess *session.Session, requested string) error {
	if requested == "" {
		requested = s.derivedName()
	}
	dest, err := resolvePath(requested)
	if err != nil {
		return transfer.NewError(transfer.KindProtocol, "store", requested, err)
	}
	sess.SetHeader(protocol.Header{Op: protocol.OpStore, Path: dest})
	if err := s.engine.ReceiveFile(ctx, sess.Stream, dest); err != nil {
		return err
	}
	if err := sess.Finish(ctx, s.cfg.Linger); err != nil {
		s.logger.Debug("finish after store", append(sess.LogAttrs(), "error", err)...)
	}
	return nil
}

// retrieve sends a stored file and waits for the client to hang up.
func (s *Server) retrieve(ctx context.Context, sess *session.Session, requested string) error {
	if requested == "" {
		requested = s.cfg.DefaultFile
	}
	src, err := resolvePath(requested)
	if err != nil {
		return transfer.NewError(transfer.KindProtocol, "retrieve", requested, err)
	}
	sess.SetHeader(protocol.Header{Op: protocol.OpRetrieve, Path: src})
	if err := s.engine.SendFile(ctx, sess.Stream, src); err != nil {
		return err
	}
	if err := sess.Finish(ctx, s.cfg.Linger); err != nil {
		s.logger.Debug("finish after send", append(sess.LogAttrs(), "error", err)...)
	}
	return nil
}

// derivedName names a file stored without a path. Two such stores in the
// same second get the same name.
func (s *Server) derivedName() string {
	return fmt.Sprintf("received_%d.txt", s.now().Unix())
}

// resolvePath maps a client path onto the storage root. Absolute paths and
// ".." segments are re-rooted so they can never leave it.
func resolvePath(p string) (string, error) {
	if strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("%w: %q", errDirectoryPath, p)
	}
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: %q", errDirectoryPath, p)
	}
	return rel, nil
}
