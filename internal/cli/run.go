package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/planner"
)

var (
	runDryRun bool
	runYes    bool
	runOut    string
)

var runCmd = &cobra.Command{
	Use:     "run [task...]",
	Aliases: []string{"apply"},
	Short:   "Run tasks, review the staged diff and apply it",
	Long: `Run the selected tasks in order and stage their edits.

With no arguments the tasks listed in [run] tasks of .conserve/config.toml
run, or every task when that list is empty. A task is selected by its full
id (module:name) or by its name alone.

The combined diff is shown before anything is written. Use --yes to apply
without asking, --dry-run to only preview, or --out to save the plan for a
later "conserve commit".`,
	Example: `  conserve run --dry-run
  conserve run conserve_port --yes
  conserve run --out sync.plan`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		req := &engine.RunRequest{
			Root:       s.root,
			Filters:    args,
			DryRun:     runDryRun,
			AutoAccept: runYes,
		}
		if runOut != "" {
			if req.PlanOut, err = filepath.Abs(runOut); err != nil {
				return err
			}
		}
		if !jsonOutput {
			req.Report = func(diffs []planner.FileDiff) {
				PrintSection(out, "Staged changes")
				renderDiffs(out, diffs)
				fmt.Fprintln(out)
			}
			req.Confirm = newConfirm(cmd)
		}

		result, err := s.eng.Run(s.ctx, req)
		if jsonOutput && result != nil {
			if jerr := outputJSON(out, result); jerr != nil {
				return jerr
			}
			return err
		}
		if result != nil {
			printRunResult(out, result)
		}
		return err
	},
}

func printRunResult(w io.Writer, result *engine.RunResult) {
	switch result.Disposition {
	case engine.DispositionEmpty:
		PrintEmptyState(w, "Nothing to apply")
	case engine.DispositionDryRun:
		if result.PlanFile != "" {
			PrintSuccess(w, fmt.Sprintf("Plan written to %s", result.PlanFile))
			return
		}
		PrintWarning(w, fmt.Sprintf("Dry run: %s not written", PrintCount(len(result.Discarded), "file", "files")))
	case engine.DispositionDeclined:
		PrintWarning(w, "Changes discarded")
	case engine.DispositionRolledBack:
		if len(result.Discarded) > 0 {
			PrintWarning(w, fmt.Sprintf("Rolled back %s", PrintCount(len(result.Discarded), "staged file", "staged files")))
		}
	case engine.DispositionCommitted, engine.DispositionPartial:
		printCommitted(w, result.Committed)
	}
}

func printCommitted(w io.Writer, committed []string) {
	if len(committed) == 0 {
		return
	}
	PrintSuccess(w, fmt.Sprintf("Applied %s", PrintCount(len(committed), "file", "files")))
	PrintList(w, committed, 1)
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show the staged diff without writing")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Apply without asking for confirmation")
	runCmd.Flags().StringVar(&runOut, "out", "", "Write the staged plan to a file instead of applying it")
}
