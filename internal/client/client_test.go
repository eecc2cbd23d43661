package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/server"
	"github.com/sheerbytes/paceline/internal/transfer"
	"github.com/sheerbytes/paceline/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTransfer() config.TransferConfig {
	return config.TransferConfig{
		BaseRate:   1 << 16,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Pacing:     "none",
		ChunkMode:  "full",
	}
}

// startServer runs a server on an in-memory root and returns its address.
func startServer(t *testing.T, network string) (string, billy.Filesystem) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.ServerConfig{
		Addr:            "127.0.0.1:0",
		Transport:       network,
		Root:            ".",
		Workers:         3,
		DefaultFile:     config.DefaultDefaultFile,
		Linger:          time.Second,
		ShutdownTimeout: 5 * time.Second,
		Transfer:        fastTransfer(),
	}
	l, err := transport.Listen(ctx, network, cfg.Addr, transport.Options{Logger: quietLogger()})
	require.NoError(t, err)

	fsys := memfs.New()
	srv, err := server.New(cfg, server.WithLogger(quietLogger()), server.WithFilesystem(fsys))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, l)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return l.Addr().String(), fsys
}

func newClient(t *testing.T, network string, opts ...Option) *Client {
	t.Helper()
	c, err := New(config.ClientConfig{
		Transport: network,
		Parallel:  2,
		Linger:    time.Second,
		Transfer:  fastTransfer(),
	}, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return c
}

func targetFor(t *testing.T, addr, path string) Target {
	t.Helper()
	target, err := ParseTarget(addr + ":" + path)
	require.NoError(t, err)
	return target
}

func writeLocal(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, network := range transport.Networks() {
		t.Run(network, func(t *testing.T) {
			addr, remoteFS := startServer(t, network)
			c := newClient(t, network)
			ctx := context.Background()

			dir := t.TempDir()
			payload := bytes.Repeat([]byte{0, 1, 2, 3, 254, 255}, 50_000)
			local := writeLocal(t, dir, "blob.bin", payload)

			require.NoError(t, c.Put(ctx, local, targetFor(t, addr, "inbox/blob.bin")))
			stored, err := util.ReadFile(remoteFS, "inbox/blob.bin")
			require.NoError(t, err)
			assert.Equal(t, payload, stored)

			back := filepath.Join(dir, "back.bin")
			require.NoError(t, c.Get(ctx, targetFor(t, addr, "inbox/blob.bin"), back))
			got, err := os.ReadFile(back)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestPutIntoRemoteDirectory(t *testing.T) {
	addr, remoteFS := startServer(t, transport.NetworkTCP)
	c := newClient(t, transport.NetworkTCP)

	local := writeLocal(t, t.TempDir(), "report.txt", []byte("quarterly"))
	require.NoError(t, c.Put(context.Background(), local, targetFor(t, addr, "reports/")))

	data, err := util.ReadFile(remoteFS, "reports/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(data))
}

func TestPutMissingLocalFileDoesNotDial(t *testing.T) {
	// Nothing listens on this target; an IOError proves Put failed first.
	c := newClient(t, transport.NetworkTCP)
	err := c.Put(context.Background(), filepath.Join(t.TempDir(), "absent"), Target{Host: "127.0.0.1", Port: 1, Path: "x"})
	require.Error(t, err)
	assert.Equal(t, transfer.KindIO, transfer.KindOf(err))
}

func TestGetMissingRemoteFileLeavesNothing(t *testing.T) {
	addr, _ := startServer(t, transport.NetworkTCP)
	c := newClient(t, transport.NetworkTCP)

	dest := filepath.Join(t.TempDir(), "absent.txt")
	err := c.Get(context.Background(), targetFor(t, addr, "absent.txt"), dest)
	require.Error(t, err)
	assert.Equal(t, transfer.KindNetwork, transfer.KindOf(err))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file on a failed retrieve")
	_, statErr = os.Stat(transfer.PartPath(dest))
	assert.True(t, os.IsNotExist(statErr), "no staging file on a failed retrieve")
}

func TestGetIntoDirectoryKeepsRemoteName(t *testing.T) {
	addr, remoteFS := startServer(t, transport.NetworkTCP)
	require.NoError(t, util.WriteFile(remoteFS, "shared/notes.txt", []byte("hello"), 0o644))
	c := newClient(t, transport.NetworkTCP)

	dir := t.TempDir()
	require.NoError(t, c.Get(context.Background(), targetFor(t, addr, "shared/notes.txt"), dir))
	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGetPrintsWhenAsked(t *testing.T) {
	addr, remoteFS := startServer(t, transport.NetworkTCP)
	require.NoError(t, util.WriteFile(remoteFS, config.DefaultDefaultFile, []byte("line one\nline two\n"), 0o644))

	var out bytes.Buffer
	c := newClient(t, transport.NetworkTCP, WithPrinter(transfer.TextPrinter{W: &out}))

	dest := filepath.Join(t.TempDir(), "copy.txt")
	require.NoError(t, c.Get(context.Background(), targetFor(t, addr, ""), dest, transfer.WithPrint(true)))
	assert.Contains(t, out.String(), "line one\nline two\n")
}

func TestPutAll(t *testing.T) {
	addr, remoteFS := startServer(t, transport.NetworkTCP)
	c := newClient(t, transport.NetworkTCP)

	dir := t.TempDir()
	var locals []string
	for i := range 5 {
		locals = append(locals, writeLocal(t, dir, fmt.Sprintf("f%d.txt", i), []byte(fmt.Sprintf("content %d", i))))
	}
	missing := filepath.Join(dir, "missing.txt")

	err := c.PutAll(context.Background(), append(locals, missing), targetFor(t, addr, "batch/"))
	require.Error(t, err, "the missing file is reported")
	assert.Contains(t, err.Error(), "missing.txt")

	for i := range 5 {
		data, readErr := util.ReadFile(remoteFS, fmt.Sprintf("batch/f%d.txt", i))
		require.NoError(t, readErr)
		assert.Equal(t, fmt.Sprintf("content %d", i), string(data))
	}
}

func TestPutAllNeedsDirectoryTarget(t *testing.T) {
	c := newClient(t, transport.NetworkTCP)
	err := c.PutAll(context.Background(), []string{"a", "b"}, Target{Host: "h", Port: 1, Path: "file.txt"})
	assert.True(t, errors.Is(err, ErrInvalidTarget))
}

func TestPutTree(t *testing.T) {
	addr, remoteFS := startServer(t, transport.NetworkTCP)
	c := newClient(t, transport.NetworkTCP)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs", "deep"), 0o755))
	writeLocal(t, dir, "top.txt", []byte("top"))
	writeLocal(t, dir, filepath.Join("docs", "a.md"), []byte("# a"))
	writeLocal(t, dir, filepath.Join("docs", "deep", "b.bin"), bytes.Repeat([]byte{7}, 3000))

	require.NoError(t, c.PutTree(context.Background(), dir, targetFor(t, addr, "mirror/")))

	for rel, want := range map[string]string{
		"mirror/top.txt":   "top",
		"mirror/docs/a.md": "# a",
	} {
		data, err := util.ReadFile(remoteFS, rel)
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(data))
	}
	data, err := util.ReadFile(remoteFS, "mirror/docs/deep/b.bin")
	require.NoError(t, err)
	assert.Len(t, data, 3000)
}

func TestPutTreeRejectsFileTarget(t *testing.T) {
	c := newClient(t, transport.NetworkTCP)
	err := c.PutTree(context.Background(), t.TempDir(), Target{Host: "h", Port: 1, Path: "file.txt"})
	assert.True(t, errors.Is(err, ErrInvalidTarget))
}

func TestPutTreeMissingDirectory(t *testing.T) {
	c := newClient(t, transport.NetworkTCP)
	err := c.PutTree(context.Background(), filepath.Join(t.TempDir(), "nope"), Target{Host: "h", Port: 1, Path: "x/"})
	assert.Equal(t, transfer.KindIO, transfer.KindOf(err))
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	_, err := New(config.ClientConfig{Transport: "pigeon", Transfer: fastTransfer()})
	assert.Error(t, err)
}

func TestLocalDest(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		local, remote, want string
	}{
		{"", "a/b.txt", "b.txt"},
		{"", "", config.DefaultDefaultFile},
		{"out.txt", "a/b.txt", "out.txt"},
		{"sub/", "a/b.txt", filepath.Join("sub", "b.txt")},
		{dir, "a/b.txt", filepath.Join(dir, "b.txt")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, localDest(tt.local, tt.remote), "%q %q", tt.local, tt.remote)
	}
}
