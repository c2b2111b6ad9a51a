package main

import (
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/carousel"
	"pkt.systems/carousel/internal/appconfig"
	"pkt.systems/carousel/internal/chromehost"
	"pkt.systems/pslog"
)

type runFlags struct {
	cfgPath            string
	console            bool
	noHTTP             bool
	headless           bool
	disableAuditTrails bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the kiosk browser and rotate through the configured pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(flags.cfgPath)
			if err != nil {
				return err
			}
			applyRunFlags(&cfg, cmd, flags)

			browser, err := chromehost.Launch(ctx, chromehost.Options{
				ExecPath:     cfg.Chrome.ExecPath,
				ProfileDir:   cfg.ProfileDir,
				Headless:     cfg.Chrome.Headless,
				Kiosk:        cfg.Chrome.Kiosk,
				WindowWidth:  cfg.Chrome.WindowWidth,
				WindowHeight: cfg.Chrome.WindowHeight,
				Flags:        cfg.Chrome.Flags,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = browser.Close() }()
			renderer := chromehost.NewRenderer(cfg.Transition.Style, time.Duration(cfg.Transition.DurationMS)*time.Millisecond, logger)

			server, err := carousel.New(ctx, toServerConfig(cfg), carousel.ServerDeps{
				Host:     browser,
				Renderer: renderer,
				Keys:     browser,
				Logger:   logger,
			}, runOptions(cmd, cfg, flags)...)
			if err != nil {
				return err
			}
			return serve(ctx, server)
		},
	}
	cmd.Flags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&flags.console, "console", false, "read slash commands from stdin")
	cmd.Flags().BoolVar(&flags.noHTTP, "no-http", false, "disable the operator HTTP API")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "run chrome headless")
	cmd.Flags().BoolVar(&flags.disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	return cmd
}

func applyRunFlags(cfg *appconfig.Config, cmd *cobra.Command, flags runFlags) {
	if cmd.Flags().Changed("headless") {
		cfg.Chrome.Headless = flags.headless
	}
	if flags.disableAuditTrails {
		cfg.Logging.DisableAuditTrails = true
	}
	if flags.noHTTP {
		cfg.HTTP.Addr = ""
	}
}

func runOptions(cmd *cobra.Command, cfg appconfig.Config, flags runFlags) []carousel.ServerOption {
	opts := []carousel.ServerOption{carousel.WithKiosk(), carousel.WithWatch()}
	if cfg.HTTP.Addr != "" {
		opts = append(opts, carousel.WithHTTP())
	}
	if flags.console {
		opts = append(opts, carousel.WithConsole(cmd.InOrStdin(), cmd.OutOrStdout()))
	}
	return opts
}
