package engine

import (
	"time"

	"github.com/danieljhkim/conserve/internal/planner"
	"github.com/danieljhkim/conserve/internal/task"
)

// Disposition is what happened to a run's staged changes.
type Disposition string

const (
	// DispositionEmpty means no task staged a change.
	DispositionEmpty Disposition = "empty"

	// DispositionCommitted means every staged file was written.
	DispositionCommitted Disposition = "committed"

	// DispositionDryRun means the changes were only previewed.
	DispositionDryRun Disposition = "dry_run"

	// DispositionDeclined means the confirmation step answered no.
	DispositionDeclined Disposition = "declined"

	// DispositionRolledBack means a task failed and the plan was discarded.
	DispositionRolledBack Disposition = "rolled_back"

	// DispositionPartial means writing stopped partway through a commit.
	DispositionPartial Disposition = "partial"
)

// ConfirmFunc decides whether a staged plan is committed.
type ConfirmFunc func(plan *planner.Plan) (bool, error)

// ReportFunc receives the staged diffs before the disposition is decided.
type ReportFunc func(diffs []planner.FileDiff)

// RunRequest represents a request to run tasks.
type RunRequest struct {
	// Root is the project root
	Root string

	// Filters selects tasks by id or name; empty uses the configured default
	Filters []string

	// DryRun previews the changes and always rolls back
	DryRun bool

	// AutoAccept commits without calling Confirm
	AutoAccept bool

	// Confirm is asked when neither DryRun nor AutoAccept is set; nil declines
	Confirm ConfirmFunc

	// Report, if set, sees the diffs before anything is written
	Report ReportFunc

	// PlanOut exports the staged plan to this file and then rolls back
	PlanOut string
}

// TaskRun records one executed task.
type TaskRun struct {
	ID       string        `json:"id"`
	Duration time.Duration `json:"duration_ns"`
}

// RunResult represents the outcome of a run.
type RunResult struct {
	// RunID identifies the run in logs and exported plans
	RunID string `json:"run_id"`

	// Tasks are the tasks that ran to completion, in order
	Tasks []TaskRun `json:"tasks"`

	// Diffs are the changed files, in first-staged order
	Diffs []planner.FileDiff `json:"diffs"`

	Disposition Disposition `json:"disposition"`

	// Committed lists written files, relative to the root
	Committed []string `json:"committed,omitempty"`

	// Discarded lists staged files that were not written
	Discarded []string `json:"discarded,omitempty"`

	// PlanFile is where the plan was exported, if requested
	PlanFile string `json:"plan_file,omitempty"`
}

// ListRequest represents a request to list discovered tasks.
type ListRequest struct {
	Root string
}

// TaskInfo describes a discovered task.
type TaskInfo struct {
	ID          string      `json:"id"`
	Module      string      `json:"module"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Source      task.Source `json:"source"`
}

// ListResult lists tasks in execution order.
type ListResult struct {
	Tasks []TaskInfo `json:"tasks"`
}

// InfoRequest represents a request for one task's metadata.
type InfoRequest struct {
	Root string

	// Task is a task id or name
	Task string
}

// InfoResult carries a task's metadata and the head of its definition.
type InfoResult struct {
	TaskInfo

	// Snippet holds up to the first ten source lines of the task
	Snippet []string `json:"snippet,omitempty"`
}

// CommitRequest represents a request to apply an exported plan file.
type CommitRequest struct {
	Root string

	// PlanFile is the file written by a run with PlanOut
	PlanFile string

	AutoAccept bool
	Confirm    ConfirmFunc
	Report     ReportFunc

	// Keep leaves the plan file in place after a successful commit
	Keep bool
}

// CommitResult represents the outcome of committing a plan file.
type CommitResult struct {
	RunID string `json:"run_id"`

	// PlanCreatedAt is when the plan file was written
	PlanCreatedAt time.Time `json:"plan_created_at"`

	Diffs       []planner.FileDiff `json:"diffs"`
	Disposition Disposition        `json:"disposition"`
	Committed   []string           `json:"committed,omitempty"`
}

func describe(t *task.Task) TaskInfo {
	return TaskInfo{
		ID:          t.ID(),
		Module:      t.Module,
		Name:        t.Name,
		Description: t.Description,
		Source:      t.Source,
	}
}
