package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoMatch is returned when a selection filter names no task.
var ErrNoMatch = errors.New("no task matches")

// ErrAmbiguous is returned when a single-task lookup matches several tasks.
var ErrAmbiguous = errors.New("task name is ambiguous")

// Loader produces the tasks of a project.
type Loader interface {
	Load(ctx context.Context, root string) (*Registry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, root string) (*Registry, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, root string) (*Registry, error) {
	return f(ctx, root)
}

// Registry is the explicit collection of runnable tasks.
type Registry struct {
	tasks map[string]*Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Add registers t. Private names and names outside the conventions are
// skipped and reported as not added. An alias is skipped when its primary
// twin is registered in the same module, and replaced if the primary arrives
// later.
func (r *Registry) Add(t *Task) (bool, error) {
	if t.Run == nil {
		return false, fmt.Errorf("task %s has no body", t.ID())
	}
	kind := Classify(t.Name)
	switch kind {
	case Private, Ignored:
		return false, nil
	}
	if _, exists := r.tasks[t.ID()]; exists {
		return false, fmt.Errorf("task %s is defined twice", t.ID())
	}

	twin := t.Module + ":" + AliasPrefix + baseName(t.Name)
	if kind == Alias {
		twin = t.Module + ":" + PrimaryPrefix + baseName(t.Name)
		if _, ok := r.tasks[twin]; ok {
			return false, nil
		}
	} else {
		delete(r.tasks, twin)
	}
	r.tasks[t.ID()] = t
	return true, nil
}

// MustAdd is Add for programmatic registration; it panics on error.
func (r *Registry) MustAdd(t *Task) {
	if _, err := r.Add(t); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	return len(r.tasks)
}

// Sorted returns all tasks ordered by module, then name.
func (r *Registry) Sorted() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Select returns the tasks named by filters, in sorted order and without
// duplicates. No filters selects everything. Every filter must match at
// least one task.
func (r *Registry) Select(filters []string) ([]*Task, error) {
	all := r.Sorted()
	if len(filters) == 0 {
		return all, nil
	}

	var unmatched []string
	chosen := make(map[string]bool)
	for _, f := range filters {
		found := false
		for _, t := range all {
			if t.Matches(f) {
				chosen[t.ID()] = true
				found = true
			}
		}
		if !found {
			unmatched = append(unmatched, f)
		}
	}
	if len(unmatched) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, strings.Join(unmatched, ", "))
	}

	out := make([]*Task, 0, len(chosen))
	for _, t := range all {
		if chosen[t.ID()] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Lookup returns the single task named by filter.
func (r *Registry) Lookup(filter string) (*Task, error) {
	var matches []*Task
	for _, t := range r.Sorted() {
		if t.Matches(filter) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, filter)
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, t := range matches {
		ids[i] = t.ID()
	}
	return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, filter, strings.Join(ids, ", "))
}
