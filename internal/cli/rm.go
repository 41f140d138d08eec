package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/memory"
	"github.com/rcliao/slotmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <memory_id>",
		Short: "Soft-delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}

	cmd.Flags().StringP("scope", "s", "", "Only look in this scope: user or group")
	cmd.Flags().Bool("admin", false, "Allow deleting group memory")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	admin, _ := cmd.Flags().GetBool("admin")
	var preferred model.Scope
	if s, _ := cmd.Flags().GetString("scope"); s != "" {
		preferred = model.ParseScope(s)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ok, msg := a.svc.SoftDelete(cmd.Context(), memory.DeleteParams{
		MemoryID:         args[0],
		UserID:           userID(),
		GroupID:          groupID(cmd),
		AllowGroupDelete: admin,
		PreferredScope:   preferred,
	})
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"ok": ok, "id": args[0], "message": msg})
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	if !ok {
		return fmt.Errorf("rm %s: %s", args[0], msg)
	}
	return nil
}
