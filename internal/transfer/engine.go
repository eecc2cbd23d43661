// Package transfer implements the chunked, paced, retrying file transfer
// engine shared by the client and the server.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-billy/v5"

	"github.com/sheerbytes/paceline/internal/bufpool"
	"github.com/sheerbytes/paceline/internal/chunkio"
	"github.com/sheerbytes/paceline/internal/progress"
	"github.com/sheerbytes/paceline/internal/registry"
)

// Engine moves single files over a stream. It is safe for concurrent use;
// every call registers itself with the active-transfer registry so sibling
// calls shrink their chunks and share the nominal rate.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	fs       billy.Filesystem
	logger   *slog.Logger
	observer Observer
	printer  Printer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry sets the active-transfer registry (default registry.Default).
func WithRegistry(r *registry.Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithFilesystem sets the filesystem files are read from and written to
// (default LocalFS).
func WithFilesystem(fsys billy.Filesystem) EngineOption {
	return func(e *Engine) { e.fs = fsys }
}

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithPrinter sets the printer used by receives that ask for it (default
// TextPrinter on stdout).
func WithPrinter(p Printer) EngineOption {
	return func(e *Engine) { e.printer = p }
}

// New returns an engine with cfg normalised.
func New(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:      NormalizeConfig(cfg),
		registry: registry.Default,
		fs:       LocalFS(),
		logger:   slog.Default(),
		observer: nopObserver{},
		printer:  TextPrinter{W: os.Stdout},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	return e
}

// Config returns the normalised engine settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Filesystem returns the filesystem the engine works on.
func (e *Engine) Filesystem() billy.Filesystem {
	return e.fs
}

// CallOption configures one SendFile or ReceiveFile call.
type CallOption func(*callOptions)

type callOptions struct {
	print    bool
	progress func(done int64)
}

// WithPrint prints the received file after a successful receive.
func WithPrint(print bool) CallOption {
	return func(o *callOptions) { o.print = print }
}

// WithProgress reports the cumulative byte count after every chunk. Several
// WithProgress options are all called, in order.
func WithProgress(fn func(done int64)) CallOption {
	return func(o *callOptions) {
		prev := o.progress
		if prev == nil {
			o.progress = fn
			return
		}
		o.progress = func(done int64) {
			prev(done)
			fn(done)
		}
	}
}

func buildCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// currentChunkSize sizes the next chunk from the registry snapshot.
func (e *Engine) currentChunkSize() int {
	return ChunkSize(e.cfg.BaseRate, e.registry.Current())
}

// SendFile streams the file at src to w. It returns nil once the file has
// been read to the end and every chunk was accepted by w. A chunk that still
// fails after MaxRetries attempts aborts the transfer.
func (e *Engine) SendFile(ctx context.Context, w io.Writer, src string, opts ...CallOption) (err error) {
	release := e.registry.Acquire()
	defer release()

	o := buildCallOptions(opts)
	started := time.Now()
	meter := progress.NewMeter()
	meter.Start(-1)
	defer func() {
		e.observer.TransferFinished(DirSend, err, time.Since(started))
		e.logCompletion(DirSend, src, meter, err)
	}()

	f, err := e.fs.Open(src)
	if err != nil {
		return NewError(KindIO, "send", src, err)
	}
	defer f.Close()

	total := int64(-1)
	if info, statErr := e.fs.Stat(src); statErr == nil {
		total = info.Size()
	}
	meter.Start(total)
	limiter := e.cfg.Pacing()

	for {
		if err := ctx.Err(); err != nil {
			return NewError(KindNetwork, "send", src, err)
		}

		buf := bufpool.Get(e.currentChunkSize())
		n, readErr := io.ReadFull(f, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			bufpool.Put(buf)
			return NewError(KindIO, "send", src, readErr)
		}
		if n > 0 {
			if err := e.sendChunk(ctx, w, buf[:n], src); err != nil {
				bufpool.Put(buf)
				return NewError(KindNetwork, "send", src, err)
			}
		}
		bufpool.Put(buf)

		if n > 0 {
			done := meter.Add(n)
			e.observer.BytesMoved(DirSend, n)
			if o.progress != nil {
				o.progress(done)
			}
			if err := limiter.Wait(ctx, n); err != nil {
				return NewError(KindNetwork, "send", src, err)
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// sendChunk writes one chunk with per-chunk retries. In full mode a retry
// resumes after the bytes already accepted; in strict mode the whole chunk is
// sent again.
func (e *Engine) sendChunk(ctx context.Context, w io.Writer, chunk []byte, path string) error {
	sent := 0
	return e.retryChunk(ctx, DirSend, path, func() error {
		if e.cfg.ChunkMode == chunkio.ModeStrict {
			_, err := chunkio.SendChunk(w, chunk, chunkio.ModeStrict)
			return err
		}
		n, err := chunkio.SendChunk(w, chunk[sent:], chunkio.ModeFull)
		sent += n
		return err
	})
}

// ReceiveFile reads the stream until the peer finishes sending and stores the
// bytes at dest. The data is staged in dest+".part" and only renamed to dest
// once the stream has ended cleanly, so dest either does not exist or holds a
// complete transfer. The parent directory is created if absent and must be
// writable before any byte is accepted.
func (e *Engine) ReceiveFile(ctx context.Context, r io.Reader, dest string, opts ...CallOption) (err error) {
	release := e.registry.Acquire()
	defer release()

	o := buildCallOptions(opts)
	started := time.Now()
	meter := progress.NewMeter()
	meter.Start(-1)
	defer func() {
		e.observer.TransferFinished(DirReceive, err, time.Since(started))
		e.logCompletion(DirReceive, dest, meter, err)
	}()

	if !validDestName(dest) {
		return NewError(KindIO, "receive", dest, ErrEmptyFilename)
	}
	if err := ensureWritableDir(e.fs, filepath.Dir(dest), e.logger); err != nil {
		return err
	}

	tmpPath := PartPath(dest)
	tmp, err := e.fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return NewError(KindIO, "receive", tmpPath, fmt.Errorf("failed to create temporary file: %w", err))
	}

	err = e.receiveInto(ctx, r, tmp, dest, meter, o)
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = NewError(KindIO, "receive", tmpPath, closeErr)
	}

	if err == nil {
		if renameErr := e.fs.Rename(tmpPath, dest); renameErr != nil {
			err = NewError(KindDurability, "receive", dest, fmt.Errorf("failed to rename temporary file: %w", renameErr))
		}
	}
	if err != nil {
		if rmErr := e.fs.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Error("failed to remove temporary file", "path", tmpPath, "error", rmErr)
		}
		return err
	}

	if o.print {
		if printErr := e.printer.Print(e.fs, dest); printErr != nil {
			e.logger.Warn("failed to print received file", "path", dest, "error", printErr)
		}
	}
	return nil
}

func (e *Engine) receiveInto(ctx context.Context, r io.Reader, tmp billy.File, dest string, meter *progress.Meter, o callOptions) error {
	limiter := e.cfg.Pacing()
	for {
		if err := ctx.Err(); err != nil {
			return NewError(KindNetwork, "receive", dest, err)
		}

		buf := bufpool.Get(e.currentChunkSize())
		n, eof, err := e.receiveChunk(ctx, r, buf, dest)
		if err != nil {
			bufpool.Put(buf)
			return NewError(KindNetwork, "receive", dest, err)
		}
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				bufpool.Put(buf)
				return NewError(KindIO, "receive", PartPath(dest), err)
			}
		}
		bufpool.Put(buf)

		if n > 0 {
			done := meter.Add(n)
			e.observer.BytesMoved(DirReceive, n)
			if o.progress != nil {
				o.progress(done)
			}
			if err := limiter.Wait(ctx, n); err != nil {
				return NewError(KindNetwork, "receive", dest, err)
			}
		}
		if eof {
			return nil
		}
	}
}

// receiveChunk reads up to len(buf) bytes with per-chunk retries. eof reports
// that the peer has finished sending; the protocol has no length field, so a
// clean end of stream is the only completion signal.
func (e *Engine) receiveChunk(ctx context.Context, r io.Reader, buf []byte, path string) (n int, eof bool, err error) {
	err = e.retryChunk(ctx, DirReceive, path, func() error {
		got, readErr := chunkio.ReceiveUpTo(r, buf)
		switch {
		case errors.Is(readErr, io.EOF):
			n, eof = got, true
			return nil
		case got > 0:
			// Keep the bytes; a persistent error resurfaces on the next read.
			n = got
			return nil
		case errors.Is(readErr, chunkio.ErrEmptyBuffer):
			return backoff.Permanent(readErr)
		default:
			return readErr
		}
	})
	return n, eof, err
}

func (e *Engine) logCompletion(dir Direction, path string, meter *progress.Meter, err error) {
	stats := meter.Snapshot()
	attrs := []any{
		"direction", dir,
		"path", path,
		"bytes", stats.BytesDone,
		"elapsed", stats.Elapsed.Round(time.Millisecond),
		"rate_bps", int64(stats.AvgBps),
		"success", err == nil,
	}
	if err != nil {
		e.logger.Error("transfer failed", append(attrs, "kind", KindOf(err), "error", err)...)
		return
	}
	e.logger.Info("transfer completed", attrs...)
}
