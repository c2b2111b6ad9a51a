package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"pkt.systems/carousel"
	"pkt.systems/carousel/httpapi"
	"pkt.systems/carousel/internal/appconfig"
	"pkt.systems/pslog"
)

const (
	hubHistory  = 512
	stopTimeout = 10 * time.Second
)

func toServerConfig(cfg appconfig.Config) carousel.ServerConfig {
	return carousel.ServerConfig{
		RotationFile: cfg.RotationFile,
		RefreshLead:  time.Duration(cfg.RefreshLeadMS) * time.Millisecond,
		HTTP: httpapi.Config{
			Addr:       cfg.HTTP.Addr,
			BasePath:   cfg.HTTP.BasePath,
			HubHistory: hubHistory,
		},
		DisableAuditLogging: cfg.Logging.DisableAuditTrails,
	}
}

// serve runs server until it fails or the process is signalled.
func serve(ctx context.Context, server carousel.Server) error {
	logger := pslog.Ctx(ctx)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("server stop failed", "err", err)
		}
	}()
	if err := server.Start(ctx); err != nil {
		return err
	}
	return server.Wait()
}
