package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(cmd, "", nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Workers)
	}
	if cfg.DefaultFile != "file_to_send.txt" {
		t.Errorf("DefaultFile = %q", cfg.DefaultFile)
	}
}

func TestLoadConfigPortArgAndFlags(t *testing.T) {
	t.Setenv("PACELINE_WORKERS", "9")
	t.Setenv("PACELINE_ROOT", "/from/env")

	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--root", "/from/flag", "--retry-delay", "250ms", "--transport", "quic"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(cmd, "", []string{"9000"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Addr)
	}
	if cfg.Root != "/from/flag" {
		t.Errorf("Root = %q, want the flag to beat the environment", cfg.Root)
	}
	if cfg.Workers != 9 {
		t.Errorf("Workers = %d, want the environment value 9", cfg.Workers)
	}
	if cfg.Transfer.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.Transfer.RetryDelay)
	}
	if cfg.Transport != "quic" {
		t.Errorf("Transport = %q", cfg.Transport)
	}
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(cmd, "", []string{"http"}); err == nil {
		t.Fatalf("expected an error for a non-numeric port")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--pacing", "sometimes"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(cmd, "", nil); err == nil {
		t.Fatalf("expected validation to reject an unknown pacing")
	}
}
