package engine

import (
	"context"
	"fmt"

	"github.com/danieljhkim/conserve/internal/planner"
)

// Commit applies a plan file exported by a run with PlanOut.
//
// The plan is refused with planner.ErrStale when any target changed on disk
// after the plan was written. The same confirmation rules as Run apply. On
// success the plan file is removed unless Keep is set.
func (e *Engine) Commit(ctx context.Context, req *CommitRequest) (*CommitResult, error) {
	plan, err := planner.ReadFile(e.fs, req.PlanFile,
		planner.WithRoot(req.Root),
		planner.WithHasher(e.hasher),
		planner.WithClock(e.clock),
		planner.WithLogger(*loggerFrom(ctx)),
	)
	if err != nil {
		return nil, err
	}
	logger := loggerFrom(ctx).With().Str("run", plan.RunID()).Logger()
	ctx = logger.WithContext(ctx)

	if err := plan.Verify(); err != nil {
		return nil, err
	}

	diffs, err := plan.Diffs()
	if err != nil {
		return nil, err
	}
	result := &CommitResult{RunID: plan.RunID(), PlanCreatedAt: plan.CreatedAt(), Diffs: diffs}
	if len(diffs) == 0 {
		result.Disposition = DispositionEmpty
		return result, e.removePlanFile(req)
	}
	if req.Report != nil {
		req.Report(diffs)
	}

	disposition, committed, err := e.dispose(ctx, plan, req.AutoAccept, req.Confirm)
	result.Disposition = disposition
	result.Committed = relPaths(req.Root, committed)
	if err != nil {
		return result, err
	}
	return result, e.removePlanFile(req)
}

func (e *Engine) removePlanFile(req *CommitRequest) error {
	if req.Keep {
		return nil
	}
	if err := e.fs.Remove(req.PlanFile); err != nil {
		return fmt.Errorf("failed to remove plan file: %w", err)
	}
	return nil
}
