package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every version of a slot",
		RunE:  runHistory,
	}

	cmd.Flags().StringP("slot", "k", "", "Slot key (required)")
	cmd.Flags().StringP("scope", "s", "user", "Scope: user or group")

	cmd.MarkFlagRequired("slot")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	slotKey, _ := cmd.Flags().GetString("slot")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.svc.History(cmd.Context(), scopeFlag(cmd), userID(), groupID(cmd), slotKey)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "- id=%s | %s | %s\n", r.ID, r.Status, r.Content)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No memories available.")
	}
	return nil
}
