package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pkt.systems/carousel"
	"pkt.systems/carousel/internal/appconfig"
	"pkt.systems/pslog"
)

func newAdminCmd() *cobra.Command {
	var cfgPath string
	var console bool
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Serve the admin API for the rotation record without a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			opts := []carousel.ServerOption{carousel.WithWatch()}
			if cfg.HTTP.Addr != "" {
				opts = append(opts, carousel.WithHTTP())
			}
			if console {
				opts = append(opts, carousel.WithConsole(cmd.InOrStdin(), cmd.OutOrStdout()))
			}
			if cfg.HTTP.Addr == "" && !console {
				return errors.New("admin needs http.addr or --console")
			}
			server, err := carousel.New(ctx, toServerConfig(cfg), carousel.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}
			return serve(ctx, server)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&console, "console", false, "read slash commands from stdin")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	return cmd
}
