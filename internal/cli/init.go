package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pantry/pkg/storage"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize pantry storage",
		Long:  "Create the configuration and data directories, then create the storage schema.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gw, err := storage.Open(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	if flags.jsonMode {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"backend":  cfg.Backend,
			"data_dir": cfg.DataDir,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pantry initialized (backend %s, data dir %s)\n", cfg.Backend, cfg.DataDir)
	return nil
}
