package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/paceline/internal/client"
	"github.com/sheerbytes/paceline/internal/config"
)

var errNoRemote = errors.New("one side must be a host[:port]:path target")

func newCpCmd(opts *rootOptions) *cobra.Command {
	gopts := &getOptions{}
	popts := &putOptions{}
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Store or retrieve, depending on which side is remote",
		Example: `  pace cp report.txt files.example.com:reports/
  pace cp -r ./photos files.example.com:photos/
  pace cp files.example.com:reports/report.txt ./report.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, target, local, err := direction(args[0], args[1])
			if err != nil {
				return err
			}
			if dir == dirPut {
				return runPut(cmd, opts, popts, []string{local}, target)
			}
			return runGet(cmd, opts, gopts, target, local)
		},
	}
	cmd.Flags().BoolVarP(&popts.recursive, "recursive", "r", false, "store a local directory with its contents")
	cmd.Flags().Int("parallel", config.DefaultParallel, "files sent at once")
	cmd.Flags().Bool("progress", true, "show progress on a terminal")
	cmd.Flags().BoolVar(&gopts.print, "print", true, "print a retrieved file")
	return cmd
}

type copyDir int

const (
	dirPut copyDir = iota
	dirGet
)

// direction decides which argument is the remote side. A destination that
// parses as a target and is not an existing local path makes a store;
// otherwise a source that parses as a target makes a retrieve.
func direction(src, dst string) (copyDir, client.Target, string, error) {
	if t, err := client.ParseTarget(dst); err == nil && !exists(dst) {
		return dirPut, t, src, nil
	}
	if t, err := client.ParseTarget(src); err == nil && !exists(src) {
		return dirGet, t, dst, nil
	}
	return 0, client.Target{}, "", errNoRemote
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
