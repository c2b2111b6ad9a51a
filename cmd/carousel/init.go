package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/carousel/internal/appconfig"
	"pkt.systems/carousel/internal/configstore"
	"pkt.systems/carousel/schema"
	"pkt.systems/pslog"
)

const starterPage = "https://example.com"

func newInitCmd() *cobra.Command {
	var cfgPath string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and a starter rotation record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			path, err := appconfig.WriteDefault(cfgPath, overwrite)
			if err != nil {
				return err
			}
			logger.Info("init wrote", "path", path, "name", "carousel.yaml")

			cfg, err := appconfig.Load(path)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.RotationFile); err == nil && !overwrite {
				logger.Info("init kept", "path", cfg.RotationFile, "name", "rotation record")
				return nil
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			store, err := configstore.NewWithOptions(cfg.RotationFile, configstore.Options{Logger: logger})
			if err != nil {
				return err
			}
			record := schema.DefaultRotationConfig()
			record.Pages = []string{starterPage}
			if err := store.Save(ctx, record); err != nil {
				return err
			}
			logger.Info("init wrote", "path", store.Path(), "name", "rotation record")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file to write")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}
