package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Remember a fact",
		Long:  "Remember a fact as if the analysis step had chosen it. Content can be a positional arg or piped via stdin.",
		RunE:  runPut,
	}

	cmd.Flags().StringP("category", "c", string(model.CategoryOther), "Category: profile, preference, group_rule, task, plan, project, deadline, other")
	cmd.Flags().StringP("slot", "k", "", "Slot key (default: derived from content)")
	cmd.Flags().Float64("importance", 0.5, "Importance in [0,1]")
	cmd.Flags().Float64("confidence", 0.5, "Confidence in [0,1]")
	cmd.Flags().Bool("group-fact", false, "Also store the fact for the group")
	cmd.Flags().String("raw", "", "Original user text, used to detect group facts")
	cmd.Flags().Int64("source-msg", 0, "Source message id")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	slotKey, _ := cmd.Flags().GetString("slot")
	importance, _ := cmd.Flags().GetFloat64("importance")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	groupFact, _ := cmd.Flags().GetBool("group-fact")
	raw, _ := cmd.Flags().GetString("raw")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(b)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("put: content is required (positional arg or stdin)")
	}
	if raw == "" {
		raw = content
	}

	var sourceMsg *int64
	if cmd.Flags().Changed("source-msg") {
		v, _ := cmd.Flags().GetInt64("source-msg")
		sourceMsg = &v
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ids := a.svc.PersistFromAnalysis(cmd.Context(), model.AnalyzeResult{
		ShouldMemory:  true,
		MemoryContent: content,
		Category:      model.Category(category),
		SlotKey:       slotKey,
		Importance:    importance,
		Confidence:    confidence,
		IsGroupFact:   groupFact,
	}, raw, userID(), groupID(cmd), sourceMsg)

	if jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"ids": ids})
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing stored")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}
