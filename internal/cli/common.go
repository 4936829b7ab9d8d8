package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/engine"
	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/hash"
	"github.com/danieljhkim/conserve/internal/logging"
	"github.com/danieljhkim/conserve/internal/taskfile"
)

// Exit codes returned by ExitCode.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitDeclined = 2
)

// session holds what every command needs once the root is resolved.
type session struct {
	root string
	ctx  context.Context
	eng  *engine.Engine
}

// newSession resolves the root and builds an engine with real
// implementations of all dependencies.
func newSession(cmd *cobra.Command) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := config.FindRoot(rootDir, cwd)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level:   settings.LogLevel,
		Format:  settings.LogFormat,
		Verbose: verbose,
		Out:     cmd.ErrOrStderr(),
	})
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, logger)

	fs := fsops.NewRealFS()
	eng := engine.New(fs, taskfile.NewLoader(fs), hash.NewSHA256Hasher(), settings)
	return &session{root: root, ctx: ctx, eng: eng}, nil
}

// outputJSON writes a value as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatError formats an error for display.
func FormatError(err error) string {
	return errorColor.Sprintf("Error: %v", err)
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, engine.ErrDeclined):
		return ExitDeclined
	default:
		return ExitFailure
	}
}
