package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/conserve/internal/engine"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List discovered tasks in execution order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		result, err := s.eng.List(s.ctx, &engine.ListRequest{Root: s.root})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}

		PrintSection(out, "Tasks")
		if len(result.Tasks) == 0 {
			PrintEmptyState(out, "No tasks found")
			return nil
		}
		table := make([][]string, 0, len(result.Tasks))
		for _, t := range result.Tasks {
			table = append(table, []string{t.ID, t.Description})
		}
		PrintTable(out, []string{"ID", "DESCRIPTION"}, table)
		fmt.Fprintln(out)
		PrintInfo(out, "  "+PrintCount(len(result.Tasks), "task", "tasks"))
		return nil
	},
}
