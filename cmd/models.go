package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dejniel/TiMini-Print/internal/catalog"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known printer models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry, err := catalog.Load(cfg.DataPath)
			if err != nil {
				return err
			}

			for _, model := range registry.Models() {
				fmt.Printf("%-10s head=%-10s width=%d dots dpi=%d mtu=%d interval=%dms\n",
					model.ModelNo, model.HeadName, model.Width(), model.DevDPI,
					model.ImgMTU, model.IntervalMs)
			}

			return nil
		},
	}
}
