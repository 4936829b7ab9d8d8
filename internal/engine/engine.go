// Package engine runs conserve tasks and decides what happens to the
// changes they stage.
//
// The engine sits between the CLI and the lower-level packages. It loads the
// task registry of a project, runs the selected tasks one at a time in their
// deterministic order against a fresh Plan, and then commits or rolls back
// that Plan.
//
// Key components:
//   - Engine: Main orchestrator called by the CLI
//   - Run: The apply state machine (reset, run tasks, diff, dispose)
//   - List/Info: Task discovery views
//   - Commit: Applies a previously exported plan file
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/danieljhkim/conserve/internal/clock"
	"github.com/danieljhkim/conserve/internal/config"
	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/hash"
	"github.com/danieljhkim/conserve/internal/planner"
	"github.com/danieljhkim/conserve/internal/task"
)

// Engine orchestrates all conserve operations.
// It is the main API surface called by the CLI.
type Engine struct {
	fs       fsops.FS
	loader   task.Loader
	hasher   hash.Hasher
	settings config.Settings
	clock    clock.Clock
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for task timings and plan timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates a new Engine with the given dependencies.
func New(
	fs fsops.FS,
	loader task.Loader,
	hasher hash.Hasher,
	settings config.Settings,
	opts ...Option,
) *Engine {
	e := &Engine{
		fs:       fs,
		loader:   loader,
		hasher:   hasher,
		settings: settings,
		clock:    clock.Real,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings returns the settings the engine was built with.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// loadRegistry loads the tasks of root.
func (e *Engine) loadRegistry(ctx context.Context, root string) (*task.Registry, error) {
	reg, err := e.loader.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	return reg, nil
}

// newPlan builds an empty plan for a run.
func (e *Engine) newPlan(ctx context.Context, root, runID string) *planner.Plan {
	return planner.New(e.fs,
		planner.WithRoot(root),
		planner.WithRunID(runID),
		planner.WithHasher(e.hasher),
		planner.WithClock(e.clock),
		planner.WithLogger(*loggerFrom(ctx)),
	)
}

// relPaths converts plan paths to root-relative display paths.
func relPaths(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = fsops.Rel(root, p)
	}
	return out
}
