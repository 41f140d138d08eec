package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every record of one collection, all statuses, as JSON.",
		RunE:  runExport,
	}

	cmd.Flags().StringP("scope", "s", "user", "Scope: user or group")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.svc.Export(cmd.Context(), scopeFlag(cmd), userID(), groupID(cmd))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), records)
}
