package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/memory"
	"github.com/rcliao/slotmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories",
		RunE:  runList,
	}

	cmd.Flags().StringP("scope", "s", "user", "Scope: user or group")
	cmd.Flags().IntP("limit", "l", memory.DefaultListLimit, "Max results (1-50)")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	scope := scopeFlag(cmd)
	if scope == model.ScopeGroup && groupID(cmd) == nil {
		if jsonOutput() {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"message": memory.MsgNotInGroup})
		}
		fmt.Fprintln(cmd.OutOrStdout(), memory.MsgNotInGroup)
		return nil
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	records := a.svc.List(cmd.Context(), memory.ListParams{
		Scope:   scope,
		UserID:  userID(),
		GroupID: groupID(cmd),
		Limit:   limit,
	})
	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	fmt.Fprintln(cmd.OutOrStdout(), memory.FormatList(records))
	return nil
}
