package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/paceline/internal/client"
	"github.com/sheerbytes/paceline/internal/config"
	"github.com/sheerbytes/paceline/internal/server"
	"github.com/sheerbytes/paceline/internal/termio"
)

const (
	nodeWorkers     = 5
	nodeArchiveRoot = "archive"
	nodePrompt      = "Enter filename to send (or 'quit' to exit): "
)

var nodeKeys = map[string]string{
	"root":      "root",
	"workers":   "workers",
	"http_addr": "http-addr",
}

func newNodeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node <port> [peer-host peer-port]",
		Short: "Serve files and push typed filenames to a peer",
		Long: `Run a server on <port> that stores incoming files under --root.

With a peer, node also reads filenames from stdin and sends each one to the
peer's server, keeping its base name. Type 'quit' to stop.`,
		Example: `  pace node 9000
  pace node 9001 127.0.0.1 9000`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("accepts <port> or <port> <peer-host> <peer-port>, received %d args", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, opts, args)
		},
	}
	cmd.Flags().String("root", nodeArchiveRoot, "directory received files are stored in")
	cmd.Flags().Int("workers", nodeWorkers, "sessions served at once")
	cmd.Flags().String("http-addr", "", "status endpoint address; empty disables it")
	return cmd
}

func runNode(cmd *cobra.Command, opts *rootOptions, args []string) error {
	addr, err := config.AddrFromPort(args[0])
	if err != nil {
		return err
	}
	v, err := newViper(cmd, opts, nodeKeys, config.SetServerDefaults, config.SetClientDefaults)
	if err != nil {
		return err
	}
	v.SetDefault("root", nodeArchiveRoot)
	v.SetDefault("workers", nodeWorkers)
	v.Set("addr", addr)

	srvCfg, err := config.LoadServer(v)
	if err != nil {
		return err
	}
	cliCfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	logger := newLogger(srvCfg.Log)

	srv, err := server.New(*srvCfg, server.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if len(args) == 3 {
		peer, err := peerTarget(args[1], args[2])
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		c, err := client.New(*cliCfg, client.WithLogger(logger))
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		send := func(ctx context.Context, name string) error {
			t := peer
			t.Path = filepath.Base(name)
			return c.Put(ctx, name, t)
		}
		g.Go(func() error {
			defer cancel()
			return promptLoop(gctx, cmd.InOrStdin(), termio.Stdout(), send)
		})
	}
	return g.Wait()
}

func peerTarget(host, port string) (client.Target, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return client.Target{}, fmt.Errorf("%w: bad peer port %q", client.ErrInvalidTarget, port)
	}
	if host == "" {
		return client.Target{}, fmt.Errorf("%w: empty peer host", client.ErrInvalidTarget)
	}
	return client.Target{Host: strings.Trim(host, "[]"), Port: n}, nil
}

// promptLoop reads filenames from in and sends each until "quit", the end of
// input or ctx is done. A failed send is reported and the loop goes on.
func promptLoop(ctx context.Context, in io.Reader, out io.Writer, send func(context.Context, string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, nodePrompt)
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "quit":
			return nil
		case "":
			continue
		}
		fmt.Fprintln(out, "Sending", line, "to peer")
		if err := send(ctx, line); err != nil {
			fmt.Fprintf(out, "Failed to send %s: %v\n", line, err)
			continue
		}
		fmt.Fprintf(out, "File %s sent successfully\n", line)
	}
}
