package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/paceline/internal/clienthttp"
	"github.com/sheerbytes/paceline/internal/termio"
)

func newStatusCmd() *cobra.Command {
	var showSessions bool
	cmd := &cobra.Command{
		Use:   "status <http-addr>",
		Short: "Show a server's health and live sessions",
		Long:  `Query the status endpoint a server started with --http-addr.`,
		Example: `  pace status 127.0.0.1:9090
  pace status --sessions https://files.example.com:9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clienthttp.New(args[0])
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := termio.Stdout()
			fmt.Fprintf(out, "ok=%t active_transfers=%d live_sessions=%d queued=%d busy=%d/%d\n",
				h.OK, h.ActiveTransfers, h.LiveSessions, h.QueuedTasks, h.BusyWorkers, h.Workers)
			if !showSessions {
				return nil
			}

			infos, err := c.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tOP\tPATH\tREMOTE\tTRANSPORT\tAGE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					info.ID, info.Op, info.Path, info.Remote, info.Transport,
					time.Since(info.StartedAt).Round(time.Second))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&showSessions, "sessions", false, "also list live sessions")
	return cmd
}
