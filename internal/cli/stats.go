package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE:  runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.svc.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "dir: %s (%d bytes)\n", stats.Dir, stats.SizeBytes)
	fmt.Fprintf(w, "memories: %d total, %d active\n", stats.TotalMemories, stats.ActiveMemories)
	for _, c := range stats.Collections {
		fmt.Fprintf(w, "- %s: %d records, %d active, %d superseded, %d deleted, %d slots\n",
			c.Name, c.Count, c.Active, c.Superseded, c.Deleted, c.Slots)
	}
	return nil
}
