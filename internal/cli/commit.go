package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/planner"
)

var (
	commitYes  bool
	commitKeep bool
)

var commitCmd = &cobra.Command{
	Use:   "commit <planfile>",
	Short: "Apply a plan saved by run --out",
	Long: `Apply a plan file written by "conserve run --out".

The plan is refused if any of its target files changed since it was written.
The plan file is removed after it is applied unless --keep is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		planFile, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		req := &engine.CommitRequest{
			Root:       s.root,
			PlanFile:   planFile,
			AutoAccept: commitYes,
			Keep:       commitKeep,
		}
		if !jsonOutput {
			req.Report = func(diffs []planner.FileDiff) {
				PrintSection(out, "Planned changes")
				renderDiffs(out, diffs)
				fmt.Fprintln(out)
			}
			req.Confirm = newConfirm(cmd)
		}

		result, err := s.eng.Commit(s.ctx, req)
		if jsonOutput && result != nil {
			if jerr := outputJSON(out, result); jerr != nil {
				return jerr
			}
			return err
		}
		if result != nil {
			switch result.Disposition {
			case engine.DispositionEmpty:
				PrintEmptyState(out, "Nothing to apply")
			case engine.DispositionDeclined:
				PrintWarning(out, "Changes discarded")
			default:
				printCommitted(out, result.Committed)
				if !result.PlanCreatedAt.IsZero() {
					PrintLabelValue(out, "Planned", result.PlanCreatedAt.Local().Format(time.RFC1123))
				}
			}
		}
		return err
	},
}

func init() {
	commitCmd.Flags().BoolVarP(&commitYes, "yes", "y", false, "Apply without asking for confirmation")
	commitCmd.Flags().BoolVar(&commitKeep, "keep", false, "Keep the plan file after applying it")
}
