package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/config"
	"github.com/pario-ai/dispatch/pkg/router"
	"github.com/pario-ai/dispatch/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Listen
			if listen != "" {
				addr = listen
			}
			srvOpts := []server.Option{server.WithLogger(a.logger), server.WithListen(addr)}
			if a.audit != nil {
				srvOpts = append(srvOpts, server.WithAudit(a.audit))
			}
			srv := server.New(a.router, srvOpts...)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				go a.watch(ctx, opts, srv.SetRouter)
			}

			a.logger.Info("starting dispatch",
				zap.String("config", opts.configPath),
				zap.String("profile", a.router.Profile().Name))
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload profiles when the config file changes")
	return cmd
}

// watch rebuilds the router whenever the config file changes. A config that
// fails to load or validate leaves the current router in place. Store and
// audit settings only take effect on restart.
func (a *app) watch(ctx context.Context, opts *rootOptions, swap func(*router.Router)) {
	err := config.Watch(ctx, opts.configPath, func(cfg *config.Config, err error) {
		if err != nil {
			a.logger.Warn("config reload failed", zap.Error(err))
			return
		}
		rt, err := a.buildRouter(cfg, opts.profile)
		if err != nil {
			a.logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		swap(rt)
		a.logger.Info("config reloaded", zap.String("profile", rt.Profile().Name))
	})
	if err != nil {
		a.logger.Error("config watch stopped", zap.Error(err))
	}
}
