package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
)

func newScanCmd() *cobra.Command {
	var (
		transport string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby supported printers",
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

			includeClassic := cfg.Scan.Classic
			includeBLE := cfg.Scan.BLE
			switch only {
			case bluetooth.TransportClassic:
				includeClassic, includeBLE = true, false
			case bluetooth.TransportBLE:
				includeClassic, includeBLE = false, true
			}

			backend := bluetooth.NewBackend()
			found, failures, err := backend.ScanWithFailures(cfg.ScanTimeout(), includeClassic, includeBLE)
			if err != nil {
				return err
			}
			for _, failure := range failures {
				log.Warn().Str("transport", string(failure.Transport)).Err(failure.Err).
					Msg("scan failed on one transport")
			}

			if !all {
				registry, err := catalog.Load(cfg.DataPath)
				if err != nil {
					return err
				}
				found = devices.NewResolver(registry, backend).FilterPrinterDevices(found)
			}

			for _, device := range found {
				printDevice(device)
			}
			if len(found) == 0 {
				log.Info().Msg("no printers found")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Restrict scan to one transport: classic, ble")
	cmd.Flags().BoolVar(&all, "all", false, "List every device seen, not only recognized printers")

	return cmd
}

func printDevice(device bluetooth.DeviceInfo) {
	status := ""
	if device.Paired == bluetooth.PairedNo {
		status = " [unpaired]"
	}
	if device.Name != "" {
		fmt.Printf("%s (%s) [%s]%s\n", device.Name, device.Address, device.Transport, status)
		return
	}
	fmt.Printf("%s [%s]%s\n", device.Address, device.Transport, status)
}
