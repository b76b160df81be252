package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/catalog"
	"github.com/Dejniel/TiMini-Print/internal/devices"
	"github.com/Dejniel/TiMini-Print/internal/transport"
)

func newPrintCmd() *cobra.Command {
	var (
		deviceHint string
		transportF string
		modelNo    string
		serialPath string
		baud       int
		chunkSize  int
		intervalMs int
	)

	cmd := &cobra.Command{
		Use:   "print <payload-file>",
		Short: "Send an encoded payload to a printer",
		Long: `Send a pre-encoded printer payload over Bluetooth, or over a serial
port with --serial to bypass Bluetooth entirely (which requires an
explicit --model, since there is no advertised name to detect from).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := zerolog.Ctx(ctx)

			only, err := parseTransport(transportF)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read payload file: %w", err)
			}

			registry, err := catalog.Load(cfg.DataPath)
			if err != nil {
				return err
			}
			backend := bluetooth.NewBackend()
			resolver := devices.NewResolver(registry, backend)

			if serialPath != "" {
				model, err := resolver.RequireModel(modelNo)
				if err != nil {
					return err
				}
				return printSerial(serialPath, baud, payload, model, cfg.Print.ChunkSize, chunkSize, cfg.Print.IntervalMs, intervalMs)
			}

			hint := deviceHint
			if hint == "" {
				hint = cfg.DefaultDevice
			}

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

			chunk, interval := transferParams(match.Model, cfg.Print.ChunkSize, chunkSize, cfg.Print.IntervalMs, intervalMs)

			log.Info().Str("device", device.Name).Str("address", device.Address).
				Str("transport", string(device.Transport)).Str("model", match.Model.ModelNo).
				Int("bytes", len(payload)).Msg("printing")

			if err := backend.Connect(device, device.Paired != bluetooth.PairedYes); err != nil {
				return err
			}
			defer func() {
				if err := backend.Disconnect(); err != nil {
					log.Warn().Err(err).Msg("disconnect failed")
				}
			}()

			return backend.Write(payload, chunk, interval)
		},
	}

	cmd.Flags().StringVar(&deviceHint, "device", "", "Bluetooth name or address (default: first supported printer)")
	cmd.Flags().StringVar(&transportF, "transport", "", "Restrict scan to one transport: classic, ble")
	cmd.Flags().StringVar(&modelNo, "model", "", "Printer model number (required for --serial)")
	cmd.Flags().StringVar(&serialPath, "serial", "", "Serial port path to bypass Bluetooth (e.g. /dev/rfcomm0)")
	cmd.Flags().IntVar(&baud, "baud", 0, "Serial baud rate (default 115200)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Override the model's write chunk size in bytes")
	cmd.Flags().IntVar(&intervalMs, "interval", 0, "Override the model's inter-chunk delay in milliseconds")

	return cmd
}

// transferParams picks chunk size and interval: flag beats config
// beats model.
func transferParams(model catalog.PrinterModel, cfgChunk, flagChunk, cfgIntervalMs, flagIntervalMs int) (int, time.Duration) {
	chunk := model.ImgMTU
	if cfgChunk > 0 {
		chunk = cfgChunk
	}
	if flagChunk > 0 {
		chunk = flagChunk
	}

	intervalMs := model.IntervalMs
	if cfgIntervalMs > 0 {
		intervalMs = cfgIntervalMs
	}
	if flagIntervalMs > 0 {
		intervalMs = flagIntervalMs
	}

	return chunk, time.Duration(intervalMs) * time.Millisecond
}

func printSerial(path string, baud int, payload []byte, model catalog.PrinterModel, cfgChunk, flagChunk, cfgIntervalMs, flagIntervalMs int) error {
	chunk, interval := transferParams(model, cfgChunk, flagChunk, cfgIntervalMs, flagIntervalMs)

	writer, err := transport.OpenSerial(path, baud)
	if err != nil {
		return err
	}
	defer writer.Close()

	return writer.Write(payload, chunk, interval)
}
