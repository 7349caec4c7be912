package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/straja-ai/graphgate/internal/auth"
	"github.com/straja-ai/graphgate/internal/ratelimit"
	"github.com/straja-ai/graphgate/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			authz, err := auth.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := rt.Close(sctx); err != nil {
					rt.logger.Error("shutdown", "err", err)
				}
			}()

			go rt.limiter.Run(ctx, ratelimit.SystemClock)

			rt.logger.Info("starting graphgate",
				"version", version,
				"executor", cfg.Executor.Type,
				"audit_sinks", rt.audit.Sinks(),
				"strict_audit", rt.audit.Strict(),
				"api_keys", authz.Len(),
			)
			return server.New(cfg, rt.gw, authz, rt.tel, rt.logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}
