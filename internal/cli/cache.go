package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/embeddings"
	"github.com/nickcecere/qitops/internal/ui"
)

// cacheCmd groups embedding cache maintenance.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the document embedding cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// cachePurgeCmd drops cached embeddings of the configured model.
var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached embeddings of the configured embedding model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if !cfg.Cache.Enabled {
			return fmt.Errorf("embedding cache is disabled")
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		cached, ok := a.emb.(*embeddings.CachedService)
		if !ok {
			return fmt.Errorf("embedding cache is not configured")
		}
		if err := cached.Purge(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.Success.Render(fmt.Sprintf("Purged cached embeddings for %s", a.emb.ModelName())))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
