package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Retrieve the memories relevant to a query",
		Long:  "Search the user's and group's memories, score them, and print the injection block.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRecall,
	}

	cmd.Flags().IntP("max", "m", 0, "Max memories (default: $MEMORY_MAX_INJECTED_MEMORIES)")
	cmd.Flags().Bool("tool", false, "Print the agent tool answer instead of the injection block")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	maxItems, _ := cmd.Flags().GetInt("max")
	tool, _ := cmd.Flags().GetBool("tool")
	query := strings.Join(args, " ")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if tool {
		fmt.Fprintln(cmd.OutOrStdout(), a.svc.RetrieveTool(cmd.Context(), query, userID(), groupID(cmd)))
		return nil
	}
	items := a.svc.RetrieveForInjection(cmd.Context(), query, userID(), groupID(cmd), maxItems)
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), items)
	}
	if block := memory.FormatForInjection(items); block != "" {
		fmt.Fprintln(cmd.OutOrStdout(), block)
	}
	return nil
}
