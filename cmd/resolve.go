package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
)

func newResolveCmd() *cobra.Command {
	var (
		transport string
		modelNo   string
	)

	cmd := &cobra.Command{
		Use:   "resolve [name-or-address]",
		Short: "Pick a printer device and resolve its model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := zerolog.Ctx(ctx)

			only, err := parseTransport(transport)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			hint := cfg.DefaultDevice
			if len(args) == 1 {
				hint = args[0]
			}

			registry, err := catalog.Load(cfg.DataPath)
			if err != nil {
				return err
			}
			resolver := devices.NewResolver(registry, bluetooth.NewBackend())

			device, err := resolver.ResolveDevice(hint, only, cfg.ScanTimeout())
			if err != nil {
				return err
			}

			match, err := resolver.ResolveModel(device.Name, modelNo, device.Address)
			if err != nil {
				return err
			}
			if match.UsedAlias() {
				log.Warn().Str("alias_kind", string(match.AliasKind)).
					Msg("model detected via alias, parameters may be approximate")
			}

			printDevice(device)
			fmt.Printf("model: %s (head %s, %d dots, source %s)\n",
				match.Model.ModelNo, match.Model.HeadName, match.Model.Width(), match.Source)

			return nil
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Restrict scan to one transport: classic, ble")
	cmd.Flags().StringVar(&modelNo, "model", "", "Override model detection with an explicit model number")

	return cmd
}
