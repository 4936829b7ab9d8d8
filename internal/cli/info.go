package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/conserve/internal/engine"
)

var infoCmd = &cobra.Command{
	Use:   "info <task>",
	Short: "Show where a task is defined and how it begins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		result, err := s.eng.Info(s.ctx, &engine.InfoRequest{Root: s.root, Task: args[0]})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, result)
		}

		PrintSection(out, "Task")
		PrintLabelValue(out, "ID", result.ID)
		PrintLabelValue(out, "Module", result.Module)
		PrintLabelValue(out, "Name", result.Name)
		if result.Description != "" {
			PrintLabelValue(out, "Description", result.Description)
		}
		PrintLabelValue(out, "Defined in", fmt.Sprintf("%s:%d", result.Source.File, result.Source.Line))

		if len(result.Snippet) > 0 {
			PrintSection(out, "Definition")
			for i, line := range result.Snippet {
				_, _ = dimColor.Fprintf(out, "  %4d ", result.Source.Line+i)
				fmt.Fprintln(out, line)
			}
		}
		return nil
	},
}
