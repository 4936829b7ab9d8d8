package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/danieljhkim/conserve/internal/planner"
)

// renderDiffs outputs a git-like unified patch per file plus a change
// summary. Files keep the order they were first staged in.
func renderDiffs(w io.Writer, diffs []planner.FileDiff) {
	if len(diffs) == 0 {
		PrintEmptyState(w, "No changes staged")
		return
	}

	insertions := 0
	deletions := 0

	for _, file := range diffs {
		fmt.Fprintln(w)
		printDiffFileHeader(w, file)

		if file.Unified != "" {
			printUnifiedDiff(w, file.Unified)
		}

		insertions += file.Additions
		deletions += file.Deletions
	}

	// Color-coded summary line
	fmt.Fprintln(w)
	_, _ = dimColor.Fprint(w, "  ")
	fmt.Fprintf(w, "%d file%s changed", len(diffs), plural(len(diffs)))
	if insertions > 0 {
		_, _ = successColor.Fprintf(w, ", %d insertion%s(+)", insertions, plural(insertions))
	}
	if deletions > 0 {
		_, _ = errorColor.Fprintf(w, ", %d deletion%s(-)", deletions, plural(deletions))
	}
	fmt.Fprintln(w)
}

// getStatusChar returns the single-character status indicator.
func getStatusChar(status string) string {
	switch status {
	case planner.StatusModified:
		return "M"
	case planner.StatusAdded:
		return "A"
	default:
		return "?"
	}
}

func plural(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}

func printDiffFileHeader(w io.Writer, file planner.FileDiff) {
	statusChar := getStatusChar(file.Status)
	statusClr := dimColor
	switch file.Status {
	case planner.StatusAdded:
		statusClr = successColor
	case planner.StatusModified:
		statusClr = warningColor
	}

	// Status badge + file path + stats
	_, _ = statusClr.Fprintf(w, "  %s ", statusChar)
	_, _ = headerColor.Fprintf(w, "%s", file.Path)

	if file.Additions > 0 {
		_, _ = successColor.Fprintf(w, "  +%d", file.Additions)
	}
	if file.Deletions > 0 {
		_, _ = errorColor.Fprintf(w, "  -%d", file.Deletions)
	}
	fmt.Fprintln(w)

	_, _ = dimColor.Fprintln(w, "  "+strings.Repeat("─", 50))
}

func printUnifiedDiff(w io.Writer, diffText string) {
	lines := strings.Split(diffText, "\n")
	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			continue
		}

		switch {
		// File names are already shown in the header
		case strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "--- "):
			continue
		case strings.HasPrefix(line, "@@"):
			_, _ = infoColor.Fprintf(w, "  %s\n", line)
		case strings.HasPrefix(line, "+"):
			_, _ = successColor.Fprintf(w, "  %s\n", line)
		case strings.HasPrefix(line, "-"):
			_, _ = errorColor.Fprintf(w, "  %s\n", line)
		default:
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}
