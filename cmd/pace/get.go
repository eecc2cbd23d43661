package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/paceline/internal/client"
	"github.com/sheerbytes/paceline/internal/progress"
	"github.com/sheerbytes/paceline/internal/termio"
	"github.com/sheerbytes/paceline/internal/transfer"
)

var getKeys = map[string]string{
	"progress": "progress",
}

type getOptions struct {
	print bool
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	gopts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get <host[:port]:path> [local]",
		Short: "Retrieve a file from a server",
		Long: `Retrieve a file from a server.

An empty remote path asks for the server's default file. The local
destination defaults to the remote base name; a directory keeps that name
inside it. The received file is printed unless --print=false.`,
		Example: `  pace get files.example.com:reports/q3.txt
  pace get --print=false 10.0.0.5:9000:isos/big.iso ./downloads/`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := client.ParseTarget(args[0])
			if err != nil {
				return err
			}
			local := ""
			if len(args) == 2 {
				local = args[1]
			}
			return runGet(cmd, opts, gopts, target, local)
		},
	}
	cmd.Flags().BoolVar(&gopts.print, "print", true, "print the received file")
	cmd.Flags().Bool("progress", true, "show a progress spinner on a terminal")
	return cmd
}

func runGet(cmd *cobra.Command, opts *rootOptions, gopts *getOptions, target client.Target, local string) error {
	cfg, err := loadClient(cmd, opts, getKeys)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	c, err := client.New(*cfg,
		client.WithLogger(logger),
		client.WithPrinter(transfer.TextPrinter{W: termio.Stdout()}),
	)
	if err != nil {
		return err
	}

	callOpts := []transfer.CallOption{transfer.WithPrint(gopts.print)}
	if cfg.Progress && termio.Stderr().IsTerminal() {
		bar := progress.NewBar(termio.Stderr(), -1, "receiving "+target.Path)
		defer bar.Finish()
		callOpts = append(callOpts, transfer.WithProgress(bar.Update))
	}
	if err := c.Get(cmd.Context(), target, local, callOpts...); err != nil {
		return err
	}
	fmt.Fprintf(termio.Stdout(), "received %s\n", target)
	return nil
}
