package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dispatch/pkg/mcp"
	"github.com/pario-ai/dispatch/pkg/router"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start dispatch as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var current atomic.Pointer[router.Router]
			current.Store(a.router)
			if watch {
				go a.watch(ctx, opts, current.Store)
			}

			mcpOpts := []mcp.Option{
				mcp.WithLogger(a.logger),
				mcp.WithRouterSource(current.Load),
			}
			if a.audit != nil {
				mcpOpts = append(mcpOpts, mcp.WithAudit(a.audit))
			}
			srv := mcp.New(a.router, version, mcpOpts...)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload profiles when the config file changes")
	return cmd
}
