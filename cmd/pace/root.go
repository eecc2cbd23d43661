package main

import (
	"log/slog"
	"maps"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sheerbytes/paceline/internal/chunkio"
	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/logging"
	"github.com/sheerbytes/paceline/internal/pacing"
	"github.com/sheerbytes/paceline/internal/termio"
	"github.com/sheerbytes/paceline/internal/transfer"
)

// Build-time variables injected via ldflags
var version = "dev"

const appName = "pace"

// commonKeys maps config keys to the persistent flags every subcommand
// inherits.
var commonKeys = map[string]string{
	"transport":            "transport",
	"linger":               "linger",
	"log.level":            "log-level",
	"log.format":           "log-format",
	"transfer.base_rate":   "base-rate",
	"transfer.max_retries": "max-retries",
	"transfer.retry_delay": "retry-delay",
	"transfer.pacing":      "pacing",
	"transfer.chunk_mode":  "chunk-mode",
}

type rootOptions struct {
	configFile string
	bench      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Rate-paced file transfer client",
		Long: `pace stores files on and retrieves files from a paceserv server.

Targets are written host[:port]:path. The port defaults to 8080 and a path
ending in "/" names a remote directory.

Every setting can also come from a config file (--config) or from
PACELINE_<KEY> environment variables, e.g. PACELINE_TRANSFER_BASE_RATE=4096.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(termio.Stdout())
	root.SetErr(termio.Stderr())

	addCommonFlags(root.PersistentFlags(), opts)
	root.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newCpCmd(opts),
		newNodeCmd(opts),
		newStatusCmd(),
	)
	return root
}

func addCommonFlags(fs *pflag.FlagSet, opts *rootOptions) {
	fs.StringVar(&opts.configFile, "config", "", "config file (YAML, TOML or JSON)")
	fs.String("transport", "tcp", "transport: tcp, quic or ws")
	fs.Duration("linger", config.DefaultLinger, "how long to wait for the peer to hang up after a send")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("log-format", logging.FormatText, "log format: text or json")
	fs.Int("base-rate", transfer.DefaultBaseRate, "bytes per second shared by all active transfers")
	fs.Int("max-retries", transfer.DefaultMaxRetries, "attempts per chunk before a transfer fails")
	fs.Duration("retry-delay", transfer.DefaultRetryDelay, "pause between chunk attempts")
	fs.String("pacing", pacing.NameWholeSecond, "pacing: whole-second, token-bucket or none")
	fs.String("chunk-mode", chunkio.ModeFull.String(), "chunk writes: full or strict")
}

// loadClient layers defaults, the config file, the environment and the
// explicitly set flags into a client configuration.
func loadClient(cmd *cobra.Command, opts *rootOptions, extra map[string]string) (*config.ClientConfig, error) {
	v, err := newViper(cmd, opts, extra, config.SetClientDefaults)
	if err != nil {
		return nil, err
	}
	return config.LoadClient(v)
}

func newViper(cmd *cobra.Command, opts *rootOptions, extra map[string]string, defaults ...func(*viper.Viper)) (*viper.Viper, error) {
	v, err := config.New(opts.configFile)
	if err != nil {
		return nil, err
	}
	for _, set := range defaults {
		set(v)
	}
	keys := maps.Clone(commonKeys)
	maps.Copy(keys, extra)
	if err := config.BindFlags(v, cmd.Flags(), keys); err != nil {
		return nil, err
	}
	return v, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	return logging.NewWithWriter(termio.Stdout(), appName, cfg.Level, cfg.Format)
}
