// Package cmd holds the timini command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/bluetooth"
	"github.com/Dejniel/TiMini-Print/internal/config"
	"github.com/Dejniel/TiMini-Print/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "timini",
		Short:         "Drive Bluetooth thermal printers from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			base := logging.Base("timini", logLevel, logFormat)
			ctx := base.WithContext(cmd.Context())
			cmd.SetContext(ctx)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: timini.yaml next to the binary)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: json, console")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newPrintCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// parseTransport validates a --transport flag value. Empty means no
// restriction.
func parseTransport(value string) (bluetooth.Transport, error) {
	switch t := bluetooth.Transport(value); t {
	case "", bluetooth.TransportClassic, bluetooth.TransportBLE:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transport %q (expected classic or ble)", value)
	}
}

// loadConfig resolves the config path flag and loads it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "timini.yaml"
	}

	return config.Load(path)
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
