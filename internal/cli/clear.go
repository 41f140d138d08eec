package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Soft-delete every active memory of a scope",
		RunE:  runClear,
	}

	cmd.Flags().StringP("scope", "s", "user", "Scope: user or group")
	cmd.Flags().Bool("admin", false, "Allow clearing group memory")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	admin, _ := cmd.Flags().GetBool("admin")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	n, msg := a.svc.Clear(cmd.Context(), memory.ClearParams{
		Scope:            scopeFlag(cmd),
		UserID:           userID(),
		GroupID:          groupID(cmd),
		AllowGroupDelete: admin,
	})
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"cleared": n, "message": msg})
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
