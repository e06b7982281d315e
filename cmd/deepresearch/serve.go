package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				a.close(shutdownCtx)
			}()

			deps := server.Deps{
				Session:       a.session,
				Executor:      a.exec,
				Metrics:       a.tele.Handler(),
				Logger:        a.logger,
				Secret:        []byte(a.cfg.Server.JWTSecret),
				StreamEnabled: a.cfg.Server.StreamEnabled,
			}
			if a.archive != nil {
				deps.Archive = a.archive
			}
			if l := a.eventLog(); l != nil {
				deps.Events = l
			}
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			if addr != "" && addr[0] != ':' && !strings.Contains(addr, ":") {
				addr = ":" + addr
			}
			a.logger.Info("starting server",
				zap.String("addr", addr),
				zap.Bool("auth", len(deps.Secret) > 0),
				zap.Bool("archive", deps.Archive != nil),
				zap.Bool("event_mirror", deps.Events != nil))
			return server.Run(ctx, server.New(deps), addr, a.logger)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}
