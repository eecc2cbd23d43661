package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/paceline/internal/client"
	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/server"
	"github.com/sheerbytes/paceline/internal/transport"
)

func startServer(t *testing.T, root string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.ServerConfig{
		Addr:            "127.0.0.1:0",
		Transport:       transport.NetworkTCP,
		Root:            root,
		Workers:         2,
		DefaultFile:     config.DefaultDefaultFile,
		Linger:          time.Second,
		ShutdownTimeout: 5 * time.Second,
		Transfer: config.TransferConfig{
			BaseRate: 1 << 16, MaxRetries: 2, RetryDelay: time.Millisecond,
			Pacing: "none", ChunkMode: "full",
		},
	}
	l, err := transport.Listen(ctx, cfg.Transport, cfg.Addr, transport.Options{Logger: logger})
	require.NoError(t, err)
	srv, err := server.New(cfg, server.WithLogger(logger))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, l)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l.Addr().String()
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append(args,
		"--log-level", "error",
		"--pacing", "none",
		"--base-rate", "65536",
		"--retry-delay", "1ms",
		"--max-retries", "2",
	))
	return cmd.ExecuteContext(context.Background())
}

func TestPutThenGetCommands(t *testing.T) {
	root := t.TempDir()
	addr := startServer(t, root)

	local := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello over the wire\n"), 0o644))

	require.NoError(t, execute(t, "put", local, addr+":inbox/"))
	stored, err := os.ReadFile(filepath.Join(root, "inbox", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello over the wire\n", string(stored))

	dest := filepath.Join(t.TempDir(), "copy.txt")
	require.NoError(t, execute(t, "get", "--print=false", addr+":inbox/hello.txt", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello over the wire\n", string(got))
}

func TestPutManyWithBench(t *testing.T) {
	root := t.TempDir()
	addr := startServer(t, root)

	dir := t.TempDir()
	var args []string
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		args = append(args, p)
	}

	require.NoError(t, execute(t, append(append([]string{"put", "--bench"}, args...), addr+":batch/")...))
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		data, err := os.ReadFile(filepath.Join(root, "batch", name))
		require.NoError(t, err)
		assert.Equal(t, name, string(data))
	}
}

func TestPutRecursive(t *testing.T) {
	root := t.TempDir()
	addr := startServer(t, root)

	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "css", "main.css"), []byte("body{}"), 0o644))

	require.NoError(t, execute(t, "put", "-r", "--bench", site, addr+":www/"))
	for rel, want := range map[string]string{
		filepath.Join("www", "index.html"):      "<html>",
		filepath.Join("www", "css", "main.css"): "body{}",
	} {
		data, err := os.ReadFile(filepath.Join(root, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(data))
	}
}

func TestCpPicksDirection(t *testing.T) {
	root := t.TempDir()
	addr := startServer(t, root)

	local := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("a"), 0o644))

	require.NoError(t, execute(t, "cp", local, addr+":a.txt"))
	_, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "b.txt")
	require.NoError(t, execute(t, "cp", "--print=false", addr+":a.txt", dest))
	_, err = os.Stat(dest)
	require.NoError(t, err)
}

func TestStatusCommand(t *testing.T) {
	srv, err := server.New(config.ServerConfig{
		Root: t.TempDir(), Workers: 3, Transport: transport.NetworkTCP,
		Transfer: config.TransferConfig{BaseRate: 20, MaxRetries: 1, Pacing: "none", ChunkMode: "full"},
	}, server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer srv.Shutdown()

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	require.NoError(t, execute(t, "status", "--sessions", ts.URL))
	assert.Error(t, execute(t, "status", "127.0.0.1:1"))
}

func TestPutRejectsBadTarget(t *testing.T) {
	err := execute(t, "put", "file.txt", "no-colon")
	assert.True(t, errors.Is(err, client.ErrInvalidTarget))
}

func TestDirection(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	d, target, local, err := direction(existing, "host:remote.txt")
	require.NoError(t, err)
	assert.Equal(t, dirPut, d)
	assert.Equal(t, "remote.txt", target.Path)
	assert.Equal(t, existing, local)

	d, target, local, err = direction("host:9000:remote.txt", "out.txt")
	require.NoError(t, err)
	assert.Equal(t, dirGet, d)
	assert.Equal(t, 9000, target.Port)
	assert.Equal(t, "out.txt", local)

	_, _, _, err = direction("a.txt", "b.txt")
	assert.ErrorIs(t, err, errNoRemote)
}

func TestPeerTarget(t *testing.T) {
	tg, err := peerTarget("[::1]", "9000")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:9000", tg.Addr())

	_, err = peerTarget("host", "0")
	assert.ErrorIs(t, err, client.ErrInvalidTarget)
	_, err = peerTarget("", "9000")
	assert.ErrorIs(t, err, client.ErrInvalidTarget)
}

func TestPromptLoop(t *testing.T) {
	in := strings.NewReader("first.txt\n\n  second.txt  \nbroken.txt\nquit\nnever.txt\n")
	var out strings.Builder

	var mu sync.Mutex
	var sent []string
	send := func(_ context.Context, name string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, name)
		if name == "broken.txt" {
			return errors.New("peer unreachable")
		}
		return nil
	}

	require.NoError(t, promptLoop(context.Background(), in, &out, send))
	assert.Equal(t, []string{"first.txt", "second.txt", "broken.txt"}, sent)
	assert.Contains(t, out.String(), "File first.txt sent successfully")
	assert.Contains(t, out.String(), "Failed to send broken.txt: peer unreachable")
	assert.NotContains(t, out.String(), "never.txt")
}

func TestPromptLoopStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- promptLoop(ctx, r, io.Discard, func(context.Context, string) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt loop ignored cancellation")
	}
}
