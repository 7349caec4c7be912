package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/gateway"
	"github.com/straja-ai/graphgate/internal/logging"
	"github.com/straja-ai/graphgate/internal/ratelimit"
	"github.com/straja-ai/graphgate/internal/telemetry"
)

// runtime holds the long-lived components built from one config.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	tel     *telemetry.Provider
	audit   *audit.Logger
	limiter *ratelimit.Limiter
	gw      *gateway.Gateway
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRuntime wires the gateway. Audit stdout sinks write to auditOut and logs go
// to logOut.
func newRuntime(ctx context.Context, cfg *config.Config, auditOut, logOut io.Writer) (*runtime, error) {
	logger := logging.New(cfg.Logging, logOut)

	tel, err := telemetry.NewProvider(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return nil, err
	}

	sinks, err := audit.OpenSinks(cfg.Audit, auditOut, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	al, err := audit.New(cfg, audit.Options{
		Sinks:    sinks,
		Fallback: logger,
		Observe: func(sink string, err error) {
			tel.RecordAuditDelivery(context.Background(), sink, err)
		},
	})
	if err != nil {
		for _, s := range sinks {
			_ = s.Close(ctx)
		}
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	limiter := ratelimit.New(cfg)
	gw, err := gateway.New(cfg, gateway.Deps{
		Limiter:   limiter,
		Audit:     al,
		Telemetry: tel,
		Logger:    logger,
	})
	if err != nil {
		_ = al.Close(ctx)
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, tel: tel, audit: al, limiter: limiter, gw: gw}, nil
}

// Close flushes the audit sinks and telemetry exporters.
func (r *runtime) Close(ctx context.Context) error {
	return errors.Join(r.audit.Close(ctx), r.tel.Shutdown(ctx))
}
