package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/api"
	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
	"github.com/Dejniel/TiMini-Print/internal/jobs"
)

const serveMaxRetries = 3

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := zerolog.Ctx(ctx)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Listen.HTTP
			}

			registry, err := catalog.Load(cfg.DataPath)
			if err != nil {
				return err
			}

			backend := bluetooth.NewBackend()
			resolver := devices.NewResolver(registry, backend)
			queue := jobs.NewQueue(backend, serveMaxRetries, *log)
			defer queue.Stop()

			server := api.NewServer(backend, registry, resolver, queue, cfg.ScanTimeout(), *log)

			return server.Run(listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")

	return cmd
}
