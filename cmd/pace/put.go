package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/paceline/internal/bench"
	"github.com/sheerbytes/paceline/internal/client"
	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/progress"
	"github.com/sheerbytes/paceline/internal/termio"
	"github.com/sheerbytes/paceline/internal/transfer"
)

type putOptions struct {
	recursive bool
}

var putKeys = map[string]string{
	"parallel": "parallel",
	"progress": "progress",
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	var putOpts putOptions
	cmd := &cobra.Command{
		Use:   "put <local>... <host[:port]:path>",
		Short: "Store local files on a server",
		Long: `Store one or more local files on a server.

Several files need a directory target ending in "/"; each keeps its base
name. An empty remote path lets the server name the file. With --recursive
each local argument is a directory whose files are stored under the target
with their relative paths.`,
		Example: `  pace put report.txt files.example.com:reports/q3.txt
  pace put *.log 10.0.0.5:9000:logs/
  pace put -r ./site files.example.com:www/
  pace put --transport quic big.iso [::1]:isos/`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := client.ParseTarget(args[len(args)-1])
			if err != nil {
				return err
			}
			return runPut(cmd, opts, &putOpts, args[:len(args)-1], target)
		},
	}
	cmd.Flags().BoolVarP(&putOpts.recursive, "recursive", "r", false, "upload directories with their contents")
	cmd.Flags().Int("parallel", config.DefaultParallel, "files sent at once")
	cmd.Flags().Bool("progress", true, "show a progress bar on a terminal")
	cmd.Flags().BoolVar(&opts.bench, "bench", false, "print per-file and total throughput when done")
	return cmd
}

func runPut(cmd *cobra.Command, opts *rootOptions, putOpts *putOptions, locals []string, target client.Target) error {
	cfg, err := loadClient(cmd, opts, putKeys)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	clientOpts := []client.Option{client.WithLogger(logger)}

	if opts.bench {
		rec := bench.NewRecorder()
		var sizes sync.Map
		clientOpts = append(clientOpts, client.WithFileProgress(func(local string, done int64) {
			if done == 0 {
				sizes.Store(local, fileSize(local))
			}
			total := int64(-1)
			if v, ok := sizes.Load(local); ok {
				total = v.(int64)
			}
			rec.Observe(local, done, total)
		}))
		defer func() {
			fmt.Fprint(termio.Stdout(), bench.Report(rec.Summaries()))
		}()
	}

	c, err := client.New(*cfg, clientOpts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if putOpts.recursive {
		var errs []error
		for _, dir := range locals {
			if err := c.PutTree(ctx, dir, target); err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(termio.Stdout(), "sent %s to %s\n", dir, target)
		}
		return errors.Join(errs...)
	}
	if len(locals) > 1 {
		if err := c.PutAll(ctx, locals, target); err != nil {
			return err
		}
		fmt.Fprintf(termio.Stdout(), "sent %d files to %s\n", len(locals), target)
		return nil
	}
	return putOne(ctx, c, cfg.Progress, locals[0], target)
}

func fileSize(local string) int64 {
	info, err := os.Stat(local)
	if err != nil {
		return -1
	}
	return info.Size()
}

func putOne(ctx context.Context, c *client.Client, showProgress bool, local string, target client.Target) error {
	var callOpts []transfer.CallOption
	if showProgress && termio.Stderr().IsTerminal() {
		bar := progress.NewBar(termio.Stderr(), fileSize(local), "sending "+filepath.Base(local))
		defer bar.Finish()
		callOpts = append(callOpts, transfer.WithProgress(bar.Update))
	}
	if err := c.Put(ctx, local, target, callOpts...); err != nil {
		return err
	}
	fmt.Fprintf(termio.Stdout(), "sent %s to %s\n", local, target)
	return nil
}
