package engine

import (
	"errors"
	"fmt"
)

// ErrDeclined indicates the confirmation step answered no.
var ErrDeclined = errors.New("changes declined")

// TaskError reports the task whose failure aborted a run.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
