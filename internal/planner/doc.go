// Package planner stages file writes for one run and applies them as a batch.
//
// A Plan records, for every path staged during a run, the content found on
// disk the first time the path was staged and the latest content handed to
// it. From that it renders unified diffs, writes everything in first-staged
// order on commit, or forgets it all on rollback.
//
// Key responsibilities:
//   - Capture each path's original content exactly once per run
//   - Render per-file unified diffs, omitting paths with no net change
//   - Commit with per-file atomic writes in deterministic order
//   - Export and re-import staged plans so a preview can be committed later
package planner
