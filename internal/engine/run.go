package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danieljhkim/conserve/internal/clock"
	"github.com/danieljhkim/conserve/internal/logging"
	"github.com/danieljhkim/conserve/internal/planner"
	"github.com/danieljhkim/conserve/internal/task"
)

func loggerFrom(ctx context.Context) *zerolog.Logger {
	return logging.From(ctx)
}

// Run executes the selected tasks against a fresh plan and disposes of it.
//
// Algorithm steps:
// 1. Load the registry and select tasks (sorted by module, then name)
// 2. Start from an empty plan
// 3. Run each task to completion, one at a time
// 4. Diff the plan and hand the diffs to Report
// 5. Dry run, export, auto-accept or ask Confirm
// 6. Commit or roll back and return what was written or discarded
//
// A failing task stops the run. Everything the run staged so far is rolled
// back, and the error is a *TaskError. Files a task wrote directly stay
// written.
func (e *Engine) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	reg, err := e.loadRegistry(ctx, req.Root)
	if err != nil {
		return nil, err
	}
	filters := req.Filters
	if len(filters) == 0 {
		filters = e.settings.Tasks
	}
	selected, err := reg.Select(filters)
	if err != nil {
		return nil, err
	}

	runID := e.newRunID()
	logger := loggerFrom(ctx).With().Str("run", runID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("tasks", len(selected)).Str("root", req.Root).Msg("run started")

	plan := e.newPlan(ctx, req.Root, runID)
	result := &RunResult{RunID: runID, Tasks: []TaskRun{}, Diffs: []planner.FileDiff{}}

	env := &task.Env{Root: req.Root, FS: e.fs, Stager: plan}
	for _, t := range selected {
		if err := e.runTask(ctx, t, env, result); err != nil {
			result.Discarded = relPaths(req.Root, plan.Paths())
			plan.Rollback()
			result.Disposition = DispositionRolledBack
			logger.Warn().Strs("discarded", result.Discarded).Msg("plan rolled back")
			return result, err
		}
	}

	diffs, err := plan.Diffs()
	if err != nil {
		plan.Rollback()
		return result, err
	}
	result.Diffs = diffs
	if len(diffs) == 0 {
		// Staged content identical to disk needs no write.
		plan.Rollback()
		result.Disposition = DispositionEmpty
		logger.Info().Msg("nothing to apply")
		return result, nil
	}
	if req.Report != nil {
		req.Report(diffs)
	}

	if req.PlanOut != "" {
		if err := plan.WriteFile(req.PlanOut); err != nil {
			plan.Rollback()
			return result, err
		}
		result.PlanFile = req.PlanOut
	}
	if req.DryRun || req.PlanOut != "" {
		result.Discarded = relPaths(req.Root, plan.Paths())
		plan.Rollback()
		result.Disposition = DispositionDryRun
		logger.Info().Strs("discarded", result.Discarded).Msg("dry run, plan rolled back")
		return result, nil
	}

	staged := plan.Paths()
	disposition, committed, err := e.dispose(ctx, plan, req.AutoAccept, req.Confirm)
	result.Disposition = disposition
	result.Committed = relPaths(req.Root, committed)
	if disposition == DispositionDeclined {
		result.Discarded = relPaths(req.Root, staged)
	}
	return result, err
}

func (e *Engine) runTask(ctx context.Context, t *task.Task, env *task.Env, result *RunResult) error {
	logger := loggerFrom(ctx).With().Str("task", t.ID()).Logger()
	logger.Debug().Msg("task started")

	start := e.clock.Now()
	err := t.Run(logger.WithContext(ctx), env)
	elapsed := clock.Since(e.clock, start)
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("task failed")
		return &TaskError{TaskID: t.ID(), Err: err}
	}
	logger.Info().Dur("elapsed", elapsed).Msg("task finished")
	result.Tasks = append(result.Tasks, TaskRun{ID: t.ID(), Duration: elapsed})
	return nil
}

// dispose commits plan when auto-accepted or confirmed and rolls it back
// otherwise. Commit and rollback both leave the plan empty.
func (e *Engine) dispose(ctx context.Context, plan *planner.Plan, autoAccept bool, confirm ConfirmFunc) (Disposition, []string, error) {
	logger := loggerFrom(ctx)

	accepted := autoAccept || e.settings.AutoAccept
	if !accepted && confirm != nil {
		ok, err := confirm(plan)
		if err != nil {
			plan.Rollback()
			return DispositionDeclined, nil, fmt.Errorf("confirmation failed: %w", err)
		}
		accepted = ok
	}
	if !accepted {
		plan.Rollback()
		logger.Info().Msg("changes declined, plan rolled back")
		return DispositionDeclined, nil, ErrDeclined
	}

	written, err := plan.Commit()
	if err != nil {
		return DispositionPartial, written, err
	}
	logger.Info().Int("files", len(written)).Msg("plan committed")
	return DispositionCommitted, written, nil
}
