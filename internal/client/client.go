// Package client stores files on and retrieves files from a paceline
// server.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/registry"
	"github.com/sheerbytes/paceline/internal/session"
	"github.com/sheerbytes/paceline/internal/transfer"
	"github.com/sheerbytes/paceline/internal/transport"
	"github.com/sheerbytes/paceline/pkg/manifest"
	"github.com/sheerbytes/paceline/pkg/protocol"
)

// Client runs one session per Put or Get.
type Client struct {
	network  string
	engine   *transfer.Engine
	logger   *slog.Logger
	linger   time.Duration
	parallel int
	dialOpts transport.Options
	progress func(local string, done int64)
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	registry *registry.Registry
	observer transfer.Observer
	printer  transfer.Printer
	progress func(local string, done int64)
}

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithRegistry sets the active-transfer registry (default registry.Default).
func WithRegistry(r *registry.Registry) Option {
	return func(o *clientOptions) { o.registry = r }
}

// WithObserver receives per-chunk transfer events.
func WithObserver(obs transfer.Observer) Option {
	return func(o *clientOptions) { o.observer = obs }
}

// WithPrinter sets where Get prints received files.
func WithPrinter(p transfer.Printer) Option {
	return func(o *clientOptions) { o.printer = p }
}

// WithFileProgress reports the cumulative bytes sent per local file. Put
// reports 0 once the session is open, before the first byte.
func WithFileProgress(fn func(local string, done int64)) Option {
	return func(o *clientOptions) { o.progress = fn }
}

// New builds a client from cfg. Local paths are used as given.
func New(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if !transport.ValidNetwork(cfg.Transport) {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	engineCfg, err := cfg.Transfer.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("transfer config: %w", err)
	}

	o := clientOptions{logger: slog.Default(), registry: registry.Default}
	for _, opt := range opts {
		opt(&o)
	}
	engineOpts := []transfer.EngineOption{
		transfer.WithRegistry(o.registry),
		transfer.WithFilesystem(transfer.LocalFS()),
		transfer.WithLogger(o.logger),
	}
	if o.observer != nil {
		engineOpts = append(engineOpts, transfer.WithObserver(o.observer))
	}
	if o.printer != nil {
		engineOpts = append(engineOpts, transfer.WithPrinter(o.printer))
	}

	parallel := cfg.Parallel
	if parallel < 1 {
		parallel = 1
	}
	return &Client{
		network:  cfg.Transport,
		engine:   transfer.New(engineCfg, engineOpts...),
		logger:   o.logger,
		linger:   cfg.Linger,
		parallel: parallel,
		dialOpts: transport.Options{Logger: o.logger},
		progress: o.progress,
	}, nil
}

func (c *Client) open(ctx context.Context, target Target, h protocol.Header) (*session.Session, error) {
	stream, err := transport.Dial(ctx, c.network, target.Addr(), c.dialOpts)
	if err != nil {
		return nil, transfer.NewError(transfer.KindNetwork, "dial", target.Addr(), err)
	}
	sess := session.New(stream, nil, c.network)
	sess.Remote = target.Addr()
	if err := protocol.WriteHeader(stream, h); err != nil {
		_ = sess.Close()
		return nil, transfer.NewError(transfer.KindNetwork, "header", h.Path, err)
	}
	sess.SetHeader(h)
	c.logger.Debug("session opened", append(sess.LogAttrs(), "op", h.Op, "path", h.Path)...)
	return sess, nil
}

// Put sends the local file to target. A target path ending in "/" receives
// the file under its base name. Put returns once the server has hung up,
// which it does after storing the file.
func (c *Client) Put(ctx context.Context, local string, target Target, opts ...transfer.CallOption) error {
	info, err := os.Stat(local)
	if err != nil {
		return transfer.NewError(transfer.KindIO, "send", local, err)
	}
	if info.IsDir() {
		return transfer.NewError(transfer.KindIO, "send", local, fmt.Errorf("%s is a directory", local))
	}

	remote := target.Path
	if target.IsDir() {
		remote += filepath.Base(local)
	}

	sess, err := c.open(ctx, target, protocol.Header{Op: protocol.OpStore, Path: remote})
	if err != nil {
		return err
	}
	defer sess.Close()

	if c.progress != nil {
		c.progress(local, 0)
		opts = append(slices.Clip(opts), transfer.WithProgress(func(done int64) { c.progress(local, done) }))
	}
	if err := c.engine.SendFile(ctx, sess.Stream, local, opts...); err != nil {
		_ = sess.Abort()
		return err
	}
	if err := sess.Finish(ctx, c.linger); err != nil {
		return transfer.NewError(transfer.KindNetwork, "send", remote, fmt.Errorf("server did not confirm: %w", err))
	}
	return nil
}

// Get retrieves target into local. If local is empty, ends in a separator
// or is an existing directory, the file keeps its remote base name.
func (c *Client) Get(ctx context.Context, target Target, local string, opts ...transfer.CallOption) error {
	if target.IsDir() {
		return transfer.NewError(transfer.KindProtocol, "receive", target.Path, errors.New("cannot retrieve a directory"))
	}
	local = localDest(local, target.Path)

	sess, err := c.open(ctx, target, protocol.Header{Op: protocol.OpRetrieve, Path: target.Path})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := c.engine.ReceiveFile(ctx, sess.Stream, local, opts...); err != nil {
		_ = sess.Abort()
		return err
	}
	if err := sess.Finish(ctx, c.linger); err != nil {
		c.logger.Debug("finish after receive", append(sess.LogAttrs(), "error", err)...)
	}
	return nil
}

func localDest(local, remote string) string {
	base := path.Base(remote)
	if remote == "" {
		base = config.DefaultDefaultFile
	}
	switch {
	case local == "":
		return base
	case strings.HasSuffix(local, "/") || strings.HasSuffix(local, string(filepath.Separator)):
		return filepath.Join(local, base)
	}
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return filepath.Join(local, base)
	}
	return local
}

// PutAll sends every local file to target, up to the configured parallelism
// at a time. Several files need a directory target (ending in "/"). Every
// file is attempted; the returned error joins the failures.
func (c *Client) PutAll(ctx context.Context, locals []string, target Target, opts ...transfer.CallOption) error {
	if len(locals) > 1 && !target.IsDir() {
		return fmt.Errorf("%w: %d files need a directory target ending in '/'", ErrInvalidTarget, len(locals))
	}
	jobs := make([]putJob, 0, len(locals))
	for _, local := range locals {
		jobs = append(jobs, putJob{local: local, target: target})
	}
	return c.putJobs(ctx, jobs, opts)
}

// PutTree sends every regular file under dir, keeping its path relative to
// dir beneath target's directory. Symlinks are skipped. A file that cannot
// be read during the scan fails the call before anything is sent.
func (c *Client) PutTree(ctx context.Context, dir string, target Target, opts ...transfer.CallOption) error {
	if !target.IsDir() && target.Path != "" {
		return fmt.Errorf("%w: a directory upload needs a target ending in '/'", ErrInvalidTarget)
	}
	m, err := manifest.Scan(transfer.LocalFS(), dir)
	if err != nil {
		return transfer.NewError(transfer.KindIO, "scan", dir, err)
	}
	files := m.Files()
	c.logger.Info("uploading tree", "dir", dir, "files", m.FileCount, "bytes", m.TotalBytes, "target", target.String())

	jobs := make([]putJob, 0, len(files))
	for _, item := range files {
		t := target
		t.Path = manifest.RemotePath(target.Path, item)
		jobs = append(jobs, putJob{local: m.LocalPath(item), target: t})
	}
	return c.putJobs(ctx, jobs, opts)
}

type putJob struct {
	local  string
	target Target
}

func (c *Client) putJobs(ctx context.Context, jobs []putJob, opts []transfer.CallOption) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(c.parallel)
	for _, job := range jobs {
		g.Go(func() error {
			if err := c.Put(ctx, job.local, job.target, opts...); err != nil {
				c.logger.Error("put failed", "local", job.local, "target", job.target.String(), "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", job.local, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
