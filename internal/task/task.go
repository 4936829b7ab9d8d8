// Package task describes units of work and the deterministic order they
// run in.
//
// Tasks are plain descriptors collected into a Registry, either by scanning
// task files under a project root or by registering Go functions directly.
// The registry resolves naming conventions (primary, alias, private), sorts
// tasks by module and name, and selects subsets by id or name.
package task

import (
	"context"
	"strings"

	"github.com/danieljhkim/conserve/internal/fsops"
	"github.com/danieljhkim/conserve/internal/handle"
)

// Naming conventions for task names and task files.
const (
	PrimaryPrefix = "conserve_"
	AliasPrefix   = "conf_"
	PrivateMarker = "_"
)

// Kind classifies a task or file name.
type Kind int

const (
	// Ignored names do not follow any convention.
	Ignored Kind = iota
	// Primary names use the conserve_ prefix.
	Primary
	// Alias names use the conf_ prefix and yield to a primary twin.
	Alias
	// Private names start with an underscore and are never run.
	Private
)

// Classify returns the kind of a task name.
func Classify(name string) Kind {
	switch {
	case strings.HasPrefix(name, PrivateMarker):
		return Private
	case strings.HasPrefix(name, PrimaryPrefix):
		return Primary
	case strings.HasPrefix(name, AliasPrefix):
		return Alias
	default:
		return Ignored
	}
}

// baseName strips the convention prefix, so conserve_x and conf_x share "x".
func baseName(name string) string {
	if strings.HasPrefix(name, PrimaryPrefix) {
		return strings.TrimPrefix(name, PrimaryPrefix)
	}
	return strings.TrimPrefix(name, AliasPrefix)
}

// Env is what a running task may touch.
type Env struct {
	// Root is the project root; relative task paths resolve against it
	Root string

	// FS is used for every read and direct write
	FS fsops.FS

	// Stager receives staged saves; tasks cannot commit or roll back
	Stager handle.Stager
}

// Resolve joins a task-relative path onto the root.
func (e *Env) Resolve(path string) string {
	return fsops.Resolve(e.Root, path)
}

// Handle opens a structured-file handle wired to the env.
func (e *Env) Handle(path string, opts ...handle.Option) (*handle.Handle, error) {
	base := []handle.Option{handle.WithFS(e.FS), handle.WithStager(e.Stager)}
	return handle.New(e.Resolve(path), append(base, opts...)...)
}

// TextHandle opens a line-oriented handle wired to the env.
func (e *Env) TextHandle(path string) *handle.TextHandle {
	return handle.NewText(e.Resolve(path), handle.WithFS(e.FS), handle.WithStager(e.Stager))
}

// Func is the body of a task.
type Func func(ctx context.Context, env *Env) error

// Source locates a task definition.
type Source struct {
	// File is the defining file, relative to the project root
	File string `json:"file"`

	Line    int `json:"line"`
	EndLine int `json:"end_line"`
}

// Task is one discovered unit of work.
type Task struct {
	// Module is the dotted module id, e.g. ".conserve.conserve_sync"
	Module string

	// Name is the task's own name, e.g. "conserve_sync_local"
	Name string

	Description string
	Source      Source
	Run         Func
}

// ID returns the fully qualified "module:name" identifier.
func (t *Task) ID() string {
	return t.Module + ":" + t.Name
}

// Matches reports whether filter names this task, either by full id or by
// its own name.
func (t *Task) Matches(filter string) bool {
	id := t.ID()
	return id == filter || strings.HasSuffix(id, ":"+filter)
}
