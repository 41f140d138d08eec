package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/embedding"
)

func init() {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Check the store schema version",
		Long:  "Compare the store's schema marker with MEMORY_SCHEMA_VERSION. With --rebuild the store is backed up and rebuilt on mismatch.",
		RunE:  runSchema,
	}

	cmd.Flags().Bool("rebuild", false, "Rebuild on mismatch (overrides MEMORY_AUTO_REBUILD_ON_STARTUP)")

	RootCmd.AddCommand(cmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
		cfg.AutoRebuild = true
	}
	logger := newLogger(cfg.LogLevel)
	emb, err := embedding.New(cfg.EmbeddingOptions())
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if c, ok := emb.(interface{ Close() }); ok {
		defer c.Close()
	}

	res, err := ensureSchema(cmd.Context(), cfg, emb, logger)
	if jsonOutput() {
		out := map[string]any{"dir": cfg.Dir, "expected": cfg.SchemaVersion, "result": res.String()}
		if err != nil {
			out["error"] = err.Error()
		}
		if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
			return werr
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (expected %s)\n", cfg.Dir, res, cfg.SchemaVersion)
	}
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
