package clienthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/logging"
	"github.com/sheerbytes/paceline/internal/registry"
	"github.com/sheerbytes/paceline/internal/server"
)

func TestHealth_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"ok":               true,
			"active_transfers": 2,
			"live_sessions":    3,
			"workers":          5,
		})
	}))
	defer ts.Close()

	h, err := New(ts.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !h.OK || h.ActiveTransfers != 2 || h.LiveSessions != 3 || h.Workers != 5 {
		t.Errorf("Health() = %+v", h)
	}
}

func TestHealth_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining\n"))
	}))
	defer ts.Close()

	_, err := New(ts.URL).Health(context.Background())
	if err == nil {
		t.Fatal("Health() expected error, got nil")
	}
	if !strings.HasPrefix(err.Error(), "server returned 503: draining") {
		t.Errorf("error = %v", err)
	}
}

func TestSessions_InvalidJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`invalid json`))
	}))
	defer ts.Close()

	_, err := New(ts.URL).Sessions(context.Background())
	if err == nil {
		t.Fatal("Sessions() expected error, got nil")
	}
	if !strings.HasPrefix(err.Error(), "parse response") {
		t.Errorf("error = %v, want a parse error", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := New(ts.URL).Health(ctx); err == nil {
		t.Fatal("Health() expected error, got nil")
	}
}

func TestBareHostGetsScheme(t *testing.T) {
	c := New("127.0.0.1:9090/")
	if c.baseURL != "http://127.0.0.1:9090" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestAgainstServerRouter(t *testing.T) {
	srv, err := server.New(config.ServerConfig{
		Addr:      "127.0.0.1:0",
		Transport: "tcp",
		Root:      ".",
		Workers:   4,
		Transfer:  config.TransferConfig{BaseRate: 20, MaxRetries: 1, Pacing: "none", ChunkMode: "full"},
	}, server.WithLogger(logging.Discard()), server.WithFilesystem(memfs.New()), server.WithRegistry(registry.New()))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	defer srv.Shutdown()

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := New(ts.URL)
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if !h.OK || h.Workers != 4 || h.LiveSessions != 0 {
		t.Errorf("Health() = %+v", h)
	}

	infos, err := c.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Sessions() = %v, want none", infos)
	}
}
