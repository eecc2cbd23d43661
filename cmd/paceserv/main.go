package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/paceline/internal/chunkio"
	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/logging"
	"github.com/sheerbytes/paceline/internal/pacing"
	"github.com/sheerbytes/paceline/internal/server"
	"github.com/sheerbytes/paceline/internal/termio"
	"github.com/sheerbytes/paceline/internal/transfer"
)

// Build-time variables injected via ldflags
var version = "dev"

const appName = "paceserv"

var serverKeys = map[string]string{
	"transport":            "transport",
	"root":                 "root",
	"workers":              "workers",
	"http_addr":            "http-addr",
	"default_file":         "default-file",
	"linger":               "linger",
	"shutdown_timeout":     "shutdown-timeout",
	"max_sessions":         "max-sessions",
	"connect_rate":         "connect-rate",
	"connect_burst":        "connect-burst",
	"log.level":            "log-level",
	"log.format":           "log-format",
	"transfer.base_rate":   "base-rate",
	"transfer.max_retries": "max-retries",
	"transfer.retry_delay": "retry-delay",
	"transfer.pacing":      "pacing",
	"transfer.chunk_mode":  "chunk-mode",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "error: %v\n", err)
	}
	termio.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   appName + " [port]",
		Short: "Serve rate-paced file transfers",
		Long: `paceserv accepts store and retrieve sessions and runs each one on a
bounded worker pool. Files live under --root.

The port defaults to 8080. Every setting can also come from a config file
(--config) or from PACELINE_<KEY> environment variables, e.g.
PACELINE_WORKERS=16 or PACELINE_TRANSFER_PACING=token-bucket.`,
		Example: `  paceserv
  paceserv 9000 --root /srv/files --http-addr :9090
  paceserv --transport quic --workers 16`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetOut(termio.Stdout())
	cmd.SetErr(termio.Stderr())

	fs := cmd.Flags()
	fs.StringVar(&configFile, "config", "", "config file (YAML, TOML or JSON)")
	fs.String("transport", "tcp", "transport: tcp, quic or ws")
	fs.String("root", ".", "directory every stored and retrieved file lives under")
	fs.Int("workers", config.DefaultWorkers, "sessions served at once")
	fs.String("http-addr", "", "status endpoint address (/healthz, /metrics, /sessions); empty disables it")
	fs.String("default-file", config.DefaultDefaultFile, "file served to a retrieve without a path")
	fs.Duration("linger", config.DefaultLinger, "how long to wait for the client to hang up after a send")
	fs.Duration("shutdown-timeout", config.DefaultShutdown, "how long shutdown waits for running sessions")
	fs.Int("max-sessions", 0, "live session cap; 0 means unlimited")
	fs.Float64("connect-rate", 0, "new connections per second allowed from one IP; 0 disables the limit")
	fs.Int("connect-burst", 0, "connections one IP may open at once before connect-rate applies")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", logging.FormatText, "log format: text or json")
	fs.Int("base-rate", transfer.DefaultBaseRate, "bytes per second shared by all active transfers")
	fs.Int("max-retries", transfer.DefaultMaxRetries, "attempts per chunk before a transfer fails")
	fs.Duration("retry-delay", transfer.DefaultRetryDelay, "pause between chunk attempts")
	fs.String("pacing", pacing.NameWholeSecond, "pacing: whole-second, token-bucket or none")
	fs.String("chunk-mode", chunkio.ModeFull.String(), "chunk writes: full or strict")
	return cmd
}

// loadConfig layers defaults, the config file, the environment, explicitly
// set flags and finally the port argument.
func loadConfig(cmd *cobra.Command, configFile string, args []string) (*config.ServerConfig, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	config.SetServerDefaults(v)
	if err := config.BindFlags(v, cmd.Flags(), serverKeys); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		addr, err := config.AddrFromPort(args[0])
		if err != nil {
			return nil, err
		}
		v.Set("addr", addr)
	}
	return config.LoadServer(v)
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	logger := logging.NewWithWriter(termio.Stdout(), appName, cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting server",
		"addr", cfg.Addr,
		"transport", cfg.Transport,
		"root", cfg.Root,
		"workers", cfg.Workers,
		"base_rate", cfg.Transfer.BaseRate,
		"pacing", cfg.Transfer.Pacing,
	)

	srv, err := server.New(*cfg, server.WithLogger(logger))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
