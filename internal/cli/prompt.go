package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/planner"
)

const confirmPrompt = "Apply these changes? [y/N] "

// newConfirm asks on the command's input whether to apply a plan. A real
// stdin that is not a terminal cannot answer, so the plan is declined.
func newConfirm(cmd *cobra.Command) engine.ConfirmFunc {
	return func(_ *planner.Plan) (bool, error) {
		in := cmd.InOrStdin()
		out := cmd.OutOrStdout()
		if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			PrintWarning(out, "stdin is not a terminal; pass --yes to apply")
			return false, nil
		}
		return askYesNo(in, out, confirmPrompt)
	}
}

func askYesNo(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
